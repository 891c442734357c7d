package capability

import (
	"os"
	"path/filepath"
	"testing"
)

const weatherDescriptor = `
id: weather_svc_001_get_weather
name: get_weather
description: Retrieve current weather conditions for a location
domain: weather
inputs:
  - name: location
    type: string
    description: Location name or coordinates
    required: true
outputs:
  - name: conditions
    type: json
    description: Weather data
    required: true
protocols:
  - request_response
  - event_driven
tags:
  - real_time
  - forecast
`

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "get_weather.yaml")
	if err := os.WriteFile(path, []byte(weatherDescriptor), 0644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}

	cap, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cap.Name != "get_weather" {
		t.Errorf("expected name get_weather, got %s", cap.Name)
	}
	if len(cap.Inputs) != 1 || cap.Inputs[0].Type != TypeString {
		t.Errorf("unexpected inputs: %+v", cap.Inputs)
	}
	if cap.Protocols[0] != ProtocolRequestResponse {
		t.Errorf("unexpected protocols: %v", cap.Protocols)
	}
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("id: x\nname: y\nprotocols: [teleport]\n"), 0644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(weatherDescriptor), 0644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	caps, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if len(caps) != 1 {
		t.Errorf("expected 1 capability, got %d", len(caps))
	}
}
