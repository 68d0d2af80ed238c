package classify

import (
	"slices"
	"sort"
	"strings"
)

// Installer describes how an installer package is invoked without prompts.
// Args may contain the placeholder "{file}".
type Installer struct {
	Platforms  []string
	Command    string
	Args       []string
	Env        []string
	Unattended bool
}

var archiveExts = map[string]struct{}{
	".zip": {}, ".tar": {}, ".tgz": {}, ".tar.gz": {}, ".gz": {}, ".rar": {}, ".7z": {},
}

var installers = map[string]Installer{
	".exe": {Platforms: []string{"windows"}, Command: "{file}", Args: []string{"/S"}, Unattended: true},
	".msi": {Platforms: []string{"windows"}, Command: "msiexec", Args: []string{"/i", "{file}", "/qn", "/norestart"}, Unattended: true},
	".pkg": {Platforms: []string{"macos"}, Command: "installer", Args: []string{"-pkg", "{file}", "-target", "/"}, Unattended: true},
	".dmg": {Platforms: []string{"macos"}},
	".deb": {Platforms: []string{"linux"}, Command: "dpkg", Args: []string{"-i", "{file}"}, Env: []string{"DEBIAN_FRONTEND=noninteractive"}, Unattended: true},
	".rpm": {Platforms: []string{"linux"}, Command: "rpm", Args: []string{"-i", "{file}"}, Unattended: true},
}

var extensionBrowsers = map[string][]string{
	".crx": {"chrome", "edge", "brave"},
	".xpi": {"firefox"},
}

var nativeLibraryExts = map[string]struct{}{
	".dll": {}, ".so": {}, ".dylib": {}, ".lib": {}, ".a": {},
}

var scriptBuckets = map[string]string{
	".bat":  "scripts/batch",
	".cmd":  "scripts/batch",
	".sh":   "scripts/shell",
	".bash": "scripts/shell",
	".ps1":  "scripts/powershell",
	".py":   "scripts/python",
}

var credentialExts = map[string]struct{}{
	".p7b": {}, ".p12": {}, ".pfx": {}, ".cer": {}, ".crt": {}, ".key": {}, ".pem": {},
}

var mobilePlatforms = map[string]string{
	".apk": "android",
	".aab": "android",
	".ipa": "ios",
}

var structuredBuckets = map[string]string{
	".json":   "configs/system",
	".xml":    "configs/system",
	".yaml":   "configs/system",
	".yml":    "configs/system",
	".config": "configs/apps",
	".ini":    "configs/apps",
	".toml":   "configs/apps",
	".csv":    "data/structured",
}

// nameHeuristics pick a bucket for unknown files from words in the name.
// The first matching rule wins.
var nameHeuristics = []struct {
	words  []string
	bucket string
}{
	{[]string{"config", "setting", "profile"}, "configs/system"},
	{[]string{"script", "batch", "automation"}, "scripts/general"},
	{[]string{"data", "database", "storage"}, "data/structured"},
}

const defaultBucket = "documents/misc"

// LookupInstaller returns the installer rule for an extension.
func LookupInstaller(ext string) (Installer, bool) {
	rule, ok := installers[ext]
	return rule, ok
}

// InstallerTools lists the external commands unattended installs need on
// host, sorted and without duplicates.
func InstallerTools(host string) []string {
	seen := make(map[string]struct{})
	var tools []string
	for _, rule := range installers {
		if !rule.Unattended || rule.Command == "" || strings.Contains(rule.Command, "{file}") {
			continue
		}
		if !slices.Contains(rule.Platforms, host) {
			continue
		}
		if _, ok := seen[rule.Command]; ok {
			continue
		}
		seen[rule.Command] = struct{}{}
		tools = append(tools, rule.Command)
	}
	sort.Strings(tools)
	return tools
}

// knownExtension reports whether any table claims ext.
func knownExtension(ext string) bool {
	if ext == "" {
		return false
	}
	if _, ok := archiveExts[ext]; ok {
		return true
	}
	if _, ok := installers[ext]; ok {
		return true
	}
	if _, ok := extensionBrowsers[ext]; ok {
		return true
	}
	if _, ok := nativeLibraryExts[ext]; ok {
		return true
	}
	if _, ok := scriptBuckets[ext]; ok {
		return true
	}
	if _, ok := credentialExts[ext]; ok {
		return true
	}
	if _, ok := mobilePlatforms[ext]; ok {
		return true
	}
	_, ok := structuredBuckets[ext]
	return ok
}
