// Package catalog holds the static volatility knowledge: supported profiles,
// plugin sets per OS generation and the flag marking plugins which extract
// artifacts into a dump directory.
package catalog

import (
	"slices"
	"strings"
)

// DetectionPlugin discovers a profile and KDBG offset for an image.
const DetectionPlugin = "imageinfo"

// DumpDirFlag marks a plugin spec as needing a dump directory. The task
// expander substitutes the concrete directory path after it.
const DumpDirFlag = "-D"

// Profiles is the set of supported Windows profiles.
var Profiles = []string{
	"VistaSP0x64",
	"VistaSP0x86",
	"VistaSP1x64",
	"VistaSP1x86",
	"VistaSP2x64",
	"VistaSP2x86",
	"Win10x64",
	"Win10x86",
	"Win2003SP0x86",
	"Win2003SP1x64",
	"Win2003SP1x86",
	"Win2003SP2x64",
	"Win2003SP2x86",
	"Win2008R2SP0x64",
	"Win2008R2SP1x64",
	"Win2008SP1x64",
	"Win2008SP1x86",
	"Win2008SP2x64",
	"Win2008SP2x86",
	"Win2012R2x64",
	"Win2012x64",
	"Win7SP0x64",
	"Win7SP0x86",
	"Win7SP1x64",
	"Win7SP1x86",
	"Win81U1x64",
	"Win81U1x86",
	"Win8SP0x64",
	"Win8SP0x86",
	"Win8SP1x64",
	"Win8SP1x86",
	"WinXPSP1x64",
	"WinXPSP2x64",
	"WinXPSP2x86",
	"WinXPSP3x86",
}

// BasePlugins run against every image regardless of OS generation.
var BasePlugins = []string{
	"pslist",
}

// LegacyPlugins run against WinXP and Win2003 images only.
var LegacyPlugins = []string{
	"evtlogs",
	"connections",
	"connscan",
	"sockets",
	"sockscan",
}

// ModernPlugins run against Vista and newer images only.
var ModernPlugins = []string{
	"netscan",
	"userassist",
	"shellbags",
	"shimcache",
	"getservicesids",
	"dumpfiles -D",
}

// legacy OS generations are matched by profile prefix
var legacyPrefixes = []string{"WinXP", "Win2003"}

func Supported(profile string) bool {
	return slices.Contains(Profiles, profile)
}

func IsLegacy(profile string) bool {
	for _, prefix := range legacyPrefixes {
		if strings.HasPrefix(profile, prefix) {
			return true
		}
	}
	return false
}

// PluginsFor selects the plugin specs applicable to a profile. Plugins
// carrying DumpDirFlag are excluded unless dump mode is enabled.
func PluginsFor(profile string, dump bool) []string {
	subset := ModernPlugins
	if IsLegacy(profile) {
		subset = LegacyPlugins
	}

	plugins := make([]string, 0, len(BasePlugins)+len(subset))
	plugins = append(plugins, BasePlugins...)
	for _, spec := range subset {
		if !dump && slices.Contains(strings.Fields(spec), DumpDirFlag) {
			continue
		}
		plugins = append(plugins, spec)
	}
	return plugins
}
