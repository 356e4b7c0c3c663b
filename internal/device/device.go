// Package device resolves static facts about the runtime once and caches them.
package device

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"

	"howett.net/plist"

	"github.com/vburojevic/beacon/internal/domain"
)

const (
	dmiProductPath    = "/sys/devices/virtual/dmi/id/product_name"
	osReleasePath     = "/etc/os-release"
	macSystemVersion  = "/System/Library/CoreServices/SystemVersion.plist"
	defaultAppName    = "beacon"
	develBuildVersion = "(devel)"
)

// Overrides are configured values that win over anything detected
type Overrides struct {
	DeviceType string
	Model      string
	OSVersion  string
	AppName    string
	AppVersion string
	InfoPlist  string // path to an app Info.plist to read version/build from
}

// Resolver detects device facts. Its function fields exist so tests can fake the host.
type Resolver struct {
	goos      string
	readFile  func(string) ([]byte, error)
	buildInfo func() (*debug.BuildInfo, bool)
}

// NewResolver returns a Resolver for the current host
func NewResolver() *Resolver {
	return &Resolver{
		goos:      runtime.GOOS,
		readFile:  os.ReadFile,
		buildInfo: debug.ReadBuildInfo,
	}
}

// Resolve detects every field, applying overrides and the "unknown" fallback
func (r *Resolver) Resolve(o Overrides) domain.DeviceContext {
	ctx := domain.DeviceContext{
		DeviceType: firstNonEmpty(o.DeviceType, deviceType(r.goos)),
		Model:      firstNonEmpty(o.Model, r.model()),
		OSVersion:  firstNonEmpty(o.OSVersion, r.osVersion()),
		AppName:    firstNonEmpty(o.AppName, defaultAppName),
	}

	version, build := r.infoPlistVersion(o.InfoPlist)
	ctx.AppVersion = firstNonEmpty(o.AppVersion, version, r.moduleVersion())
	ctx.AppBuild = build
	ctx.UserAgent = UserAgent(ctx)
	return ctx
}

// UserAgent formats "<app>/<version> (<deviceType> <osVersion>; <model>)"
func UserAgent(d domain.DeviceContext) string {
	return fmt.Sprintf("%s/%s (%s %s; %s)",
		firstNonEmpty(d.AppName, defaultAppName),
		firstNonEmpty(d.AppVersion),
		firstNonEmpty(d.DeviceType),
		firstNonEmpty(d.OSVersion),
		firstNonEmpty(d.Model),
	)
}

func deviceType(goos string) string {
	switch goos {
	case "darwin":
		return "macos"
	case "":
		return ""
	default:
		// ios, android, linux, windows already match the collector's vocabulary
		return goos
	}
}

func (r *Resolver) model() string {
	switch r.goos {
	case "linux", "android":
		b, err := r.readFile(dmiProductPath)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(b))
	}
	return ""
}

func (r *Resolver) osVersion() string {
	switch r.goos {
	case "linux", "android":
		b, err := r.readFile(osReleasePath)
		if err != nil {
			return ""
		}
		return parseOSRelease(b)
	case "darwin", "ios":
		b, err := r.readFile(macSystemVersion)
		if err != nil {
			return ""
		}
		var sv struct {
			ProductVersion string `plist:"ProductVersion"`
		}
		if _, err := plist.Unmarshal(b, &sv); err != nil {
			return ""
		}
		return sv.ProductVersion
	}
	return ""
}

// parseOSRelease prefers VERSION_ID and falls back to PRETTY_NAME
func parseOSRelease(b []byte) string {
	var versionID, pretty string
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"'`)
		switch key {
		case "VERSION_ID":
			versionID = value
		case "PRETTY_NAME":
			pretty = value
		}
	}
	return firstNonEmpty(versionID, pretty)
}

func (r *Resolver) infoPlistVersion(path string) (version, build string) {
	if strings.TrimSpace(path) == "" {
		return "", ""
	}
	b, err := r.readFile(path)
	if err != nil {
		return "", ""
	}
	var info struct {
		ShortVersion string `plist:"CFBundleShortVersionString"`
		Build        string `plist:"CFBundleVersion"`
	}
	if _, err := plist.Unmarshal(b, &info); err != nil {
		return "", ""
	}
	return info.ShortVersion, info.Build
}

func (r *Resolver) moduleVersion() string {
	if r.buildInfo == nil {
		return ""
	}
	bi, ok := r.buildInfo()
	if !ok || bi == nil || bi.Main.Version == develBuildVersion {
		return ""
	}
	return bi.Main.Version
}

// firstNonEmpty returns the first non-blank value, or domain.Unknown
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return domain.Unknown
}

// Provider resolves the device context on first use and returns the cached value afterwards
type Provider struct {
	once      sync.Once
	resolver  *Resolver
	overrides Overrides
	ctx       domain.DeviceContext
}

// NewProvider returns a Provider for the current host
func NewProvider(o Overrides) *Provider {
	return &Provider{resolver: NewResolver(), overrides: o}
}

// Context returns the resolved device context
func (p *Provider) Context() domain.DeviceContext {
	p.once.Do(func() {
		p.ctx = p.resolver.Resolve(p.overrides)
	})
	return p.ctx
}
