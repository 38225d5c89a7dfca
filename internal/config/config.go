// Package config loads ./proxy_config.json into a Config, fills unset
// fields from `default` struct tags, and rejects values outside their
// `validate` tag ranges.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/grishkovelli/phonewatch/internal/proxypool"
)

// ClientVersion is the minimum version this build accepts from
// proxy_config.json's client_version field.
const ClientVersion = 1

// ErrValidation is returned by Load when a required field is missing.
type ErrValidation struct{ Field string }

func (e ErrValidation) Error() string {
	return fmt.Sprintf("config: field %q is required", e.Field)
}

// Proxy mirrors the "proxy.*" section of proxy_config.json.
type Proxy struct {
	Protocol      int    `json:"protocol" default:"0"`
	Target        string `json:"target" validate:"required"`
	CountTarget   string `json:"count_target"`
	Share         bool   `json:"share"`
	SocketCount   int    `json:"socket_count" default:"20"`
	PerFetch      int    `json:"per_fetch" default:"50"`
	FetchInterval int    `json:"fetch_interval" default:"5"`
}

// Config is the top-level shape of proxy_config.json.
type Config struct {
	Proxy         Proxy  `json:"proxy"`
	ClientVersion int    `json:"client_version"`
	WebID         uint32 `json:"web_id"`
	ScansPerIP    uint32 `json:"scans_per_ip"`
}

// Load reads path, JSON-decodes it, fills zero-valued fields tagged
// `default`, then validates fields tagged `validate:"required"`. A
// client_version below ClientVersion is treated as a validation failure.
// Load returns an error instead of calling os.Exit so callers (and tests)
// can react without killing the test binary.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	setDefaultValues(&c.Proxy)
	setDefaultValues(&c)

	if err := validate(&c.Proxy); err != nil {
		return nil, err
	}
	if c.ClientVersion < ClientVersion {
		return nil, fmt.Errorf("config: client_version %d is below the minimum %d", c.ClientVersion, ClientVersion)
	}
	return &c, nil
}

// Protocol maps the JSON protocol integer onto proxypool's enum.
func (c *Config) Protocol() proxypool.Protocol {
	if c.Proxy.Protocol == 1 {
		return proxypool.HTTPHTTPS
	}
	return proxypool.SOCKS5
}

// PoolConfig builds a proxypool.Config from the loaded options.
func (c *Config) PoolConfig() proxypool.Config {
	return proxypool.Config{
		Target:        c.Proxy.Target,
		CountTarget:   c.Proxy.CountTarget,
		Protocol:      c.Protocol(),
		Share:         c.Proxy.Share,
		PerFetch:      c.Proxy.PerFetch,
		FetchInterval: time.Duration(c.Proxy.FetchInterval) * time.Second,
		WebID:         c.WebID,
	}
}

func setDefaultValues(obj interface{}) {
	tof := reflect.TypeOf(obj).Elem()
	vof := reflect.ValueOf(obj).Elem()

	for i := 0; i < vof.NumField(); i++ {
		vf := vof.Field(i)
		v := tof.Field(i).Tag.Get("default")

		if v == "" || !vf.IsZero() {
			continue
		}

		switch vf.Kind() {
		case reflect.String:
			vf.SetString(v)
		case reflect.Int, reflect.Int32, reflect.Int64:
			if intv, err := strconv.ParseInt(v, 10, 64); err == nil {
				vf.SetInt(intv)
			}
		case reflect.Uint, reflect.Uint32, reflect.Uint64:
			if uintv, err := strconv.ParseUint(v, 10, 64); err == nil {
				vf.SetUint(uintv)
			}
		case reflect.Bool:
			if boolv, err := strconv.ParseBool(v); err == nil {
				vf.SetBool(boolv)
			}
		case reflect.Slice:
			if vf.Type().Elem().Kind() == reflect.String {
				vf.Set(reflect.ValueOf(strings.Split(v, ",")))
			}
		}
	}
}

func validate(obj interface{}) error {
	tof := reflect.TypeOf(obj).Elem()
	vof := reflect.ValueOf(obj).Elem()

	for i := 0; i < vof.NumField(); i++ {
		tf := tof.Field(i)
		vf := vof.Field(i)

		v := tf.Tag.Get("validate")
		if v == "" {
			continue
		}
		if strings.Contains(v, "required") && vf.IsZero() {
			return ErrValidation{Field: tf.Name}
		}
	}
	return nil
}
