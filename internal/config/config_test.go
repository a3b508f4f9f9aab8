package config

import (
	"testing"
	"time"
)

func TestSpeeddConfigValidate_OK(t *testing.T) {
	c := &SpeeddConfig{
		ListenAddr: ":20000",
		LogFormat:  "text",
		LogLevel:   "info",
		MaxClients: 0,
	}
	if err := c.validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestSpeeddConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*SpeeddConfig)
	}{
		{"badFormat", func(c *SpeeddConfig) { c.LogFormat = "xx" }},
		{"badLevel", func(c *SpeeddConfig) { c.LogLevel = "nope" }},
		{"emptyListen", func(c *SpeeddConfig) { c.ListenAddr = "" }},
		{"badMaxClients", func(c *SpeeddConfig) { c.MaxClients = -1 }},
		{"badReadTO", func(c *SpeeddConfig) { c.ClientReadTO = -time.Second }},
	}
	for _, tc := range tests {
		base := &SpeeddConfig{ListenAddr: ":20000", LogFormat: "text", LogLevel: "info"}
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestLRCPConfigValidate_OK(t *testing.T) {
	c := &LRCPConfig{
		ListenAddr:      ":20000",
		LogFormat:       "json",
		LogLevel:        "debug",
		RetransmitEvery: 3 * time.Second,
		SessionExpiry:   60 * time.Second,
	}
	if err := c.validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestLRCPConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*LRCPConfig)
	}{
		{"badFormat", func(c *LRCPConfig) { c.LogFormat = "xx" }},
		{"badLevel", func(c *LRCPConfig) { c.LogLevel = "nope" }},
		{"badRetransmit", func(c *LRCPConfig) { c.RetransmitEvery = 0 }},
		{"badExpiry", func(c *LRCPConfig) { c.SessionExpiry = 0 }},
		{"badRecvBuf", func(c *LRCPConfig) { c.RecvBufBytes = -1 }},
	}
	for _, tc := range tests {
		base := &LRCPConfig{
			ListenAddr: ":20000", LogFormat: "text", LogLevel: "info",
			RetransmitEvery: 3 * time.Second, SessionExpiry: 60 * time.Second,
		}
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
