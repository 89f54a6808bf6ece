package fileshare

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/Ning0612/dpsync/internal/domain"
)

// ShareSpec describes a network share
type ShareSpec struct {
	// Address is the server, e.g. "smb://fs1.example.com" or "fs1.example.com"
	Address string

	// ShareName is the exported share
	ShareName string

	Username string
	Password string

	// MountPath is where the share is (or will be) mounted
	MountPath string
}

// Host returns the address without its scheme
func (s ShareSpec) Host() string {
	if u, err := url.Parse(s.Address); err == nil && u.Host != "" {
		return u.Host
	}
	return strings.TrimSuffix(s.Address, "/")
}

// Validate returns a MountError for the first missing field
func (s ShareSpec) Validate() error {
	switch {
	case s.Address == "":
		return &domain.MountError{Reason: domain.MountAddressMissing}
	case s.ShareName == "":
		return &domain.MountError{Reason: domain.MountShareNameMissing}
	case s.Username == "":
		return &domain.MountError{Reason: domain.MountNoUsername}
	case s.Password == "":
		return &domain.MountError{Reason: domain.MountNoPassword}
	}
	return nil
}

// Mounter attaches a share to the local file system
type Mounter interface {
	// Mount returns the local directory of the share
	Mount(ctx context.Context, spec ShareSpec) (string, error)

	// Unmount detaches a share mounted by Mount
	Unmount(ctx context.Context, mountPath string) error
}

// StaticMounter uses a share that is already mounted at MountPath
type StaticMounter struct{}

// Mount checks the mount path is a directory
func (StaticMounter) Mount(ctx context.Context, spec ShareSpec) (string, error) {
	if spec.MountPath == "" {
		return "", fmt.Errorf("no mount path for %s: %w", spec.ShareName, domain.ErrConfigInvalid)
	}
	info, err := os.Stat(spec.MountPath)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s: %w", spec.MountPath, domain.ErrNotDirectory)
	}
	return spec.MountPath, nil
}

// Unmount leaves a pre-mounted share in place
func (StaticMounter) Unmount(ctx context.Context, mountPath string) error {
	return nil
}

// CommandMounter mounts SMB shares with mount(8) and the cifs helper
type CommandMounter struct {
	// Command defaults to "mount"
	Command string

	// UnmountCommand defaults to "umount"
	UnmountCommand string
}

// Mount runs "mount -t cifs //host/share mountPath"; the password is passed in
// the PASSWD environment variable so it never appears on a command line
func (m CommandMounter) Mount(ctx context.Context, spec ShareSpec) (string, error) {
	if spec.MountPath == "" {
		return "", fmt.Errorf("no mount path for %s: %w", spec.ShareName, domain.ErrConfigInvalid)
	}
	if err := os.MkdirAll(spec.MountPath, 0755); err != nil {
		return "", err
	}

	command := m.Command
	if command == "" {
		command = "mount"
	}
	source := "//" + spec.Host() + "/" + spec.ShareName
	cmd := exec.CommandContext(ctx, command, "-t", "cifs", source, spec.MountPath, "-o", "username="+spec.Username)
	cmd.Env = append(os.Environ(), "PASSWD="+spec.Password)

	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", command, source, err, strings.TrimSpace(string(out)))
	}
	return spec.MountPath, nil
}

// Unmount runs "umount mountPath"
func (m CommandMounter) Unmount(ctx context.Context, mountPath string) error {
	command := m.UnmountCommand
	if command == "" {
		command = "umount"
	}
	if out, err := exec.CommandContext(ctx, command, mountPath).CombinedOutput(); err != nil {
		return fmt.Errorf("%s %s: %w: %s", command, mountPath, err, strings.TrimSpace(string(out)))
	}
	return nil
}
