package main

import (
	"bytes"
	"os"
	"testing"
)

func TestConfigValidateCommand(t *testing.T) {
	// Create a valid config
	tmp := t.TempDir() + "/logtap.yaml"
	content := []byte(`version: 1
project: test
root: /app
resources:
  web:
    kind: systemd
    unit: nginx.service
`)
	if err := os.WriteFile(tmp, content, 0644); err != nil {
		t.Fatal(err)
	}

	// Run validate via cobra
	rootCmd.SetArgs([]string{"config", "validate", tmp})
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
}

func TestVersionCommand(t *testing.T) {
	rootCmd.SetArgs([]string{"version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
}
