// Package cloudinit renders NoCloud seed data (user-data, meta-data) and
// packages it into an ISO9660 image labeled CIDATA.
package cloudinit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/kdomanski/iso9660"
	"gopkg.in/yaml.v3"

	"github.com/vpsdash/vpsd/internal/shared/cmdexec"
)

const seedLabel = "CIDATA"

// SeedInput describes the guest account and identity baked into the seed.
type SeedInput struct {
	Name     string
	Hostname string
	User     string
	Password string
	OSType   string
}

// userData is the cloud-config document marshaled to YAML and prefixed with
// the #cloud-config header.
type userData struct {
	Hostname        string    `yaml:"hostname"`
	Users           []user    `yaml:"users"`
	Chpasswd        *chpasswd `yaml:"chpasswd,omitempty"`
	SSHPasswordAuth bool      `yaml:"ssh_pwauth"`
	PackageUpdate   bool      `yaml:"package_update"`
}

type user struct {
	Name              string   `yaml:"name"`
	Sudo              string   `yaml:"sudo"`
	Groups            string   `yaml:"groups"`
	Shell             string   `yaml:"shell"`
	LockPasswd        bool     `yaml:"lock_passwd"`
	PlainTextPasswd   string   `yaml:"plain_text_passwd,omitempty"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys,omitempty"`
}

type chpasswd struct {
	Expire bool   `yaml:"expire"`
	List   string `yaml:"list"`
}

type metaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// RenderUserData produces the #cloud-config document for a default passworded
// administrative account.
func RenderUserData(input SeedInput) (string, error) {
	name := strings.TrimSpace(input.User)
	if name == "" {
		name = "admin"
	}
	password := input.Password
	if password == "" {
		password = "changeme"
	}

	doc := userData{
		Hostname: hostnameFor(input),
		Users: []user{
			{
				Name:            name,
				Sudo:            "ALL=(ALL) NOPASSWD:ALL",
				Groups:          "sudo",
				Shell:           "/bin/bash",
				LockPasswd:      false,
				PlainTextPasswd: password,
			},
		},
		Chpasswd:        &chpasswd{Expire: false, List: fmt.Sprintf("%s:%s", name, password)},
		SSHPasswordAuth: true,
		PackageUpdate:   true,
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("cloudinit: marshal user-data: %w", err)
	}
	return "#cloud-config\n" + string(out), nil
}

// RenderMetaData produces the meta-data document. The instance-id is unique
// per creation so cloud-init re-runs when a name is reused.
func RenderMetaData(input SeedInput) (string, error) {
	doc := metaData{
		InstanceID:    fmt.Sprintf("%s-%s", hostnameFor(input), uuid.NewString()[:8]),
		LocalHostname: hostnameFor(input),
	}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("cloudinit: marshal meta-data: %w", err)
	}
	return string(out), nil
}

func hostnameFor(input SeedInput) string {
	if h := strings.TrimSpace(input.Hostname); h != "" {
		return h
	}
	cleaned := make([]rune, 0, len(input.Name))
	for _, r := range strings.ToLower(input.Name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			cleaned = append(cleaned, r)
		}
	}
	if len(cleaned) == 0 {
		return "vm"
	}
	return string(cleaned)
}

// BuildSeedISO stages user-data and meta-data in a temp dir and packages them
// into an ISO at dest. genisoimage does the packaging when installed; a
// pure-Go ISO9660 writer covers hosts without it.
func BuildSeedISO(ctx context.Context, runner cmdexec.Runner, input SeedInput, dest string) error {
	if strings.TrimSpace(dest) == "" {
		return fmt.Errorf("cloudinit: destination path required")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("cloudinit: ensure destination directory: %w", err)
	}

	userDoc, err := RenderUserData(input)
	if err != nil {
		return err
	}
	metaDoc, err := RenderMetaData(input)
	if err != nil {
		return err
	}

	stageDir, err := os.MkdirTemp("", "vpsd-seed-")
	if err != nil {
		return fmt.Errorf("cloudinit: temp dir: %w", err)
	}
	defer os.RemoveAll(stageDir)

	userPath := filepath.Join(stageDir, "user-data")
	metaPath := filepath.Join(stageDir, "meta-data")
	if err := os.WriteFile(userPath, []byte(userDoc), 0o644); err != nil {
		return fmt.Errorf("cloudinit: write user-data: %w", err)
	}
	if err := os.WriteFile(metaPath, []byte(metaDoc), 0o644); err != nil {
		return fmt.Errorf("cloudinit: write meta-data: %w", err)
	}

	_, err = runner.Run(ctx, "genisoimage",
		"-output", dest,
		"-volid", seedLabel,
		"-joliet", "-rock",
		userPath, metaPath,
	)
	if err == nil {
		return nil
	}
	if !errors.Is(err, cmdexec.ErrToolNotFound) {
		return fmt.Errorf("cloudinit: build seed iso: %w", err)
	}
	return writeISO(dest, map[string]string{
		"user-data": userDoc,
		"meta-data": metaDoc,
	})
}

func writeISO(dest string, files map[string]string) error {
	writer, err := iso9660.NewWriter()
	if err != nil {
		return fmt.Errorf("cloudinit: iso writer: %w", err)
	}
	defer func() { _ = writer.Cleanup() }()

	for name, content := range files {
		if err := writer.AddFile(bytes.NewReader([]byte(content)), name); err != nil {
			return fmt.Errorf("cloudinit: add %s: %w", name, err)
		}
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("cloudinit: create %s: %w", dest, err)
	}
	defer out.Close()

	if err := writer.WriteTo(out, seedLabel); err != nil {
		return fmt.Errorf("cloudinit: write iso: %w", err)
	}
	return nil
}
