package carrier

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

// DeviceIdentity is the block of app/device headers the carrier requires on
// sensitive GraphQL operations.
type DeviceIdentity struct {
	Manufacturer string
	Model        string
	OS           string
	OSVersion    string
	AppVersion   string
	AppBuild     string
	Baggage      string
}

// Default device identity values, used when the environment sets none.
const (
	DefaultManufacturer = "Apple"
	DefaultModel        = "iPhone15,2"
	DefaultOS           = "iOS"
	DefaultOSVersion    = "17.5.1"
	DefaultAppVersion   = "7.12.0"
	DefaultAppBuild     = "1784"
	DefaultBaggage      = "sentry-environment=production,sentry-public_key=app"
)

// DefaultDeviceIdentity returns the literal fallback identity.
func DefaultDeviceIdentity() DeviceIdentity {
	return DeviceIdentity{}.withDefaults()
}

func (d DeviceIdentity) withDefaults() DeviceIdentity {
	if d.Manufacturer == "" {
		d.Manufacturer = DefaultManufacturer
	}
	if d.Model == "" {
		d.Model = DefaultModel
	}
	if d.OS == "" {
		d.OS = DefaultOS
	}
	if d.OSVersion == "" {
		d.OSVersion = DefaultOSVersion
	}
	if d.AppVersion == "" {
		d.AppVersion = DefaultAppVersion
	}
	if d.AppBuild == "" {
		d.AppBuild = DefaultAppBuild
	}
	if d.Baggage == "" {
		d.Baggage = DefaultBaggage
	}
	return d
}

// Device identity header names.
const (
	HeaderDeviceManufacturer = "X-Device-Manufacturer"
	HeaderDeviceModel        = "X-Device-Model"
	HeaderDeviceOS           = "X-Device-Os"
	HeaderDeviceOSVersion    = "X-Device-Os-Version"
	HeaderAppVersion         = "X-App-Version"
	HeaderAppBuild           = "X-App-Build"
	HeaderBaggage            = "Baggage"
	HeaderRequestID          = "X-Request-Id"

	HeaderMFASignature      = "X-Mfa-Signature"
	headerMFASignatureLower = "x-mfa-signature"
)

// Headers returns the identity header block with a fresh request id.
func (d DeviceIdentity) Headers() http.Header {
	h := http.Header{}
	h.Set(HeaderDeviceManufacturer, d.Manufacturer)
	h.Set(HeaderDeviceModel, d.Model)
	h.Set(HeaderDeviceOS, d.OS)
	h.Set(HeaderDeviceOSVersion, d.OSVersion)
	h.Set(HeaderAppVersion, d.AppVersion)
	h.Set(HeaderAppBuild, d.AppBuild)
	h.Set(HeaderBaggage, d.Baggage)
	h.Set(HeaderRequestID, uuid.NewString())
	return h
}

// Capability describes what an operation needs beyond a bearer token.
type Capability struct {
	Operation      string
	DeviceIdentity bool
}

type capabilityRule struct {
	pattern *regexp.Regexp
	cap     Capability
}

// capabilities is the operation dispatch table. Order matters only when a
// raw query mentions several operations.
var capabilities = []capabilityRule{
	{regexp.MustCompile(`(?i)\breserveESim\b`), Capability{Operation: "reserveESim", DeviceIdentity: true}},
	{regexp.MustCompile(`(?i)\bswapSim\b`), Capability{Operation: "swapSim", DeviceIdentity: true}},
	{regexp.MustCompile(`(?i)\beSimDownloadToken\b`), Capability{Operation: "eSimDownloadToken", DeviceIdentity: true}},
	{regexp.MustCompile(`(?i)\bsimSwapMfaChallenge\b`), Capability{Operation: "simSwapMfaChallenge", DeviceIdentity: true}},
}

// LookupCapability matches the operation name first, then the raw query.
func LookupCapability(operationName, query string) (Capability, bool) {
	if operationName != "" {
		for _, rule := range capabilities {
			if rule.pattern.MatchString(operationName) {
				return rule.cap, true
			}
		}
	}
	for _, rule := range capabilities {
		if rule.pattern.MatchString(query) {
			return rule.cap, true
		}
	}
	return Capability{}, false
}

// setMFASignature attaches sig under both the canonical and the lowercase
// header name.
func setMFASignature(h http.Header, sig string) {
	if sig == "" {
		return
	}
	h[HeaderMFASignature] = []string{sig}
	h[headerMFASignatureLower] = []string{sig}
}
