// Package sshhosts lists the interactive SSH hosts a workspace can be synced to.
package sshhosts

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// git hosting services accept ssh for git only
var gitHostSuffixes = []string{
	"github.com",
	"gitlab.com",
	"bitbucket.org",
	"ssh.dev.azure.com",
	"vs-ssh.visualstudio.com",
}

type Host struct {
	Name     string `json:"name" yaml:"name"`
	HostName string `json:"hostname" yaml:"hostname"`
	User     string `json:"user,omitempty" yaml:"user,omitempty"`
	Port     string `json:"port,omitempty" yaml:"port,omitempty"`
}

// DefaultConfigPath is ~/.ssh/config.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ssh", "config")
}

// Discover parses the ssh config at path (the default path when empty) and returns
// its concrete hosts, skipping wildcard patterns and git-only hosts.
// A missing file yields an empty list.
func Discover(path string) ([]Host, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []Host{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("read ssh config: %w", err)
	}

	return Parse(data)
}

// Parse extracts hosts from ssh config content.
func Parse(data []byte) ([]Host, error) {
	cfg, err := ssh_config.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse ssh config: %w", err)
	}

	hosts := []Host{}
	seen := make(map[string]bool)

	for _, h := range cfg.Hosts {
		for _, p := range h.Patterns {
			name := p.String()
			if isPattern(name) || seen[name] {
				continue
			}
			seen[name] = true

			host := resolve(cfg, name)
			if isGitHost(host) {
				continue
			}
			hosts = append(hosts, host)
		}
	}

	return hosts, nil
}

func resolve(cfg *ssh_config.Config, name string) Host {
	get := func(key string) string {
		v, err := cfg.Get(name, key)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(v)
	}

	host := Host{
		Name:     name,
		HostName: get("HostName"),
		User:     get("User"),
		Port:     get("Port"),
	}
	if host.HostName == "" {
		host.HostName = name
	}
	return host
}

func isPattern(name string) bool {
	return strings.ContainsAny(name, "*?!")
}

func isGitHost(h Host) bool {
	if h.User == "git" {
		return true
	}
	hostname := strings.ToLower(h.HostName)
	for _, suffix := range gitHostSuffixes {
		if hostname == suffix || strings.HasSuffix(hostname, "."+suffix) {
			return true
		}
	}
	return false
}
