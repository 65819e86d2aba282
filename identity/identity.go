// Package identity describes the device a cache belongs to and how that
// description travels as connection parameters.
package identity

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"

	"github.com/c360/cachescope/errors"
)

// Connection parameter names
const (
	ParamDeviceName      = "deviceName"
	ParamDeviceID        = "deviceId"
	ParamPlatform        = "platform"
	ParamExtraDeviceInfo = "extraDeviceInfo"
	ParamEnvVariables    = "envVariables"
)

// Identity names a device to the inspector.
type Identity struct {
	DeviceName      string            `json:"deviceName"`
	DeviceID        string            `json:"deviceId"`
	Platform        string            `json:"platform"`
	ExtraDeviceInfo map[string]string `json:"extraDeviceInfo,omitempty"`
	EnvVariables    map[string]string `json:"envVariables,omitempty"`
}

// Validate checks the fields the inspector keys devices by.
func (i Identity) Validate() error {
	if strings.TrimSpace(i.DeviceID) == "" {
		return errors.WrapInvalid(fmt.Errorf("device id is required"), "Identity", "Validate", "check device id")
	}
	if strings.TrimSpace(i.DeviceName) == "" {
		return errors.WrapInvalid(fmt.Errorf("device name is required"), "Identity", "Validate", "check device name")
	}
	return nil
}

// Equal reports whether i and o describe the same device. Nil and empty
// maps are equal.
func (i Identity) Equal(o Identity) bool {
	type fields Identity
	return cmp.Equal(fields(i), fields(o), cmpopts.EquateEmpty())
}

// Values encodes i as connection query parameters. Maps travel as JSON.
func (i Identity) Values() url.Values {
	v := url.Values{}
	v.Set(ParamDeviceName, i.DeviceName)
	v.Set(ParamDeviceID, i.DeviceID)
	v.Set(ParamPlatform, i.Platform)
	v.Set(ParamExtraDeviceInfo, encodeMap(i.ExtraDeviceInfo))
	v.Set(ParamEnvVariables, encodeMap(i.EnvVariables))
	return v
}

// FromValues decodes connection query parameters.
func FromValues(v url.Values) (Identity, error) {
	id := Identity{
		DeviceName: v.Get(ParamDeviceName),
		DeviceID:   v.Get(ParamDeviceID),
		Platform:   v.Get(ParamPlatform),
	}
	var err error
	if id.ExtraDeviceInfo, err = decodeMap(v.Get(ParamExtraDeviceInfo)); err != nil {
		return Identity{}, errors.WrapInvalid(err, "identity", "FromValues", "parse extraDeviceInfo")
	}
	if id.EnvVariables, err = decodeMap(v.Get(ParamEnvVariables)); err != nil {
		return Identity{}, errors.WrapInvalid(err, "identity", "FromValues", "parse envVariables")
	}
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	return id, nil
}

func encodeMap(m map[string]string) string {
	if m == nil {
		m = map[string]string{}
	}
	raw, _ := json.Marshal(m)
	return string(raw)
}

func decodeMap(s string) (map[string]string, error) {
	if s == "" {
		return map[string]string{}, nil
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Settings are the inputs Resolve builds an Identity from.
type Settings struct {
	DeviceName   string
	DeviceID     string
	DeviceIDFile string
	Platform     string
	ExtraInfo    map[string]string
	EnvPrefix    string
}

// Resolve fills unset fields: the device id from DeviceIDFile (created on
// first use), the name from the hostname and the platform from the OS.
func Resolve(s Settings) (Identity, error) {
	id := Identity{
		DeviceName:      s.DeviceName,
		DeviceID:        s.DeviceID,
		Platform:        s.Platform,
		ExtraDeviceInfo: s.ExtraInfo,
	}

	if id.DeviceID == "" {
		if s.DeviceIDFile == "" {
			return Identity{}, errors.WrapInvalid(fmt.Errorf("device id or device id file is required"),
				"identity", "Resolve", "resolve device id")
		}
		deviceID, err := LoadOrCreateDeviceID(s.DeviceIDFile)
		if err != nil {
			return Identity{}, err
		}
		id.DeviceID = deviceID
	}
	if id.DeviceName == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "cachescope-device"
		}
		id.DeviceName = host
	}
	if id.Platform == "" {
		id.Platform = runtime.GOOS
	}
	if s.EnvPrefix != "" {
		id.EnvVariables = CollectEnv(s.EnvPrefix, os.Environ())
	}
	return id, id.Validate()
}

// LoadOrCreateDeviceID returns the id stored at path, writing a new uuid
// there when the file does not exist.
func LoadOrCreateDeviceID(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(raw))
		if _, perr := uuid.Parse(id); perr != nil {
			return "", errors.WrapInvalid(perr, "identity", "LoadOrCreateDeviceID", "parse device id")
		}
		return id, nil
	}
	if !os.IsNotExist(err) {
		return "", errors.WrapFatal(err, "identity", "LoadOrCreateDeviceID", "read device id file")
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.WrapFatal(err, "identity", "LoadOrCreateDeviceID", "create device id directory")
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", errors.WrapFatal(err, "identity", "LoadOrCreateDeviceID", "write device id file")
	}
	return id, nil
}

// CollectEnv returns the variables of environ whose name starts with
// prefix, keyed by the full name.
func CollectEnv(prefix string, environ []string) map[string]string {
	out := map[string]string{}
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		out[name] = value
	}
	return out
}

// EnvNames lists the keys of env in order, for logging.
func EnvNames(env map[string]string) []string {
	names := make([]string, 0, len(env))
	for k := range env {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
