package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.msgdb, or $MSGDB_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("MSGDB_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".msgdb")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// SocketPath returns the health socket path of a profile's daemon.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "msgdbd.sock")
}

func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the message database of a profile.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "messages.db")
}

func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

func LogPath(name string) string {
	return filepath.Join(LogDir(name), "msgdbd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with owner-only permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
