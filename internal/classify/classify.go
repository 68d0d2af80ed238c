package classify

import (
	"fmt"
	"slices"
	"strings"

	"hopper/internal/fileutil"
)

// Category is the closed set of file categories.
type Category string

const (
	CategoryArchive          Category = "archive"
	CategoryInstaller        Category = "installer"
	CategoryBrowserExtension Category = "browser_extension"
	CategoryNativeLibrary    Category = "native_library"
	CategoryScript           Category = "script"
	CategoryCredential       Category = "credential"
	CategoryMobileApp        Category = "mobile_app"
	CategoryStructuredData   Category = "structured_data"
	CategoryUnknown          Category = "unknown"
)

// Categories lists every category in priority order.
var Categories = []Category{
	CategoryArchive,
	CategoryInstaller,
	CategoryBrowserExtension,
	CategoryNativeLibrary,
	CategoryScript,
	CategoryCredential,
	CategoryMobileApp,
	CategoryStructuredData,
	CategoryUnknown,
}

// ParseCategory validates a category name.
func ParseCategory(value string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(value)))
	if slices.Contains(Categories, c) {
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q", value)
}

// Modifiable reports whether completed records of this category may be
// handed to the content-generation collaborator for rework.
func (c Category) Modifiable() bool {
	switch c {
	case CategoryScript, CategoryStructuredData, CategoryUnknown, CategoryBrowserExtension:
		return true
	case CategoryArchive, CategoryInstaller, CategoryNativeLibrary, CategoryCredential, CategoryMobileApp:
		return false
	default:
		return false
	}
}

// ModifiableCategories returns the names of all modifiable categories.
func ModifiableCategories() []string {
	var out []string
	for _, c := range Categories {
		if c.Modifiable() {
			out = append(out, string(c))
		}
	}
	return out
}

// Hint is the primary action suggested for a category.
type Hint string

const (
	HintExtract         Hint = "extract"
	HintInstall         Hint = "install"
	HintIntegrate       Hint = "integrate"
	HintOrganize        Hint = "organize"
	HintConvertMetadata Hint = "convert_metadata"
	HintConvert         Hint = "convert"
)

// Risk grades how much a file could affect the host if mishandled.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Structure is a content signature detected by Inspect.
type Structure string

const (
	StructureNone       Structure = ""
	StructureZip        Structure = "zip"
	StructureGzip       Structure = "gzip"
	StructureTar        Structure = "tar"
	Structure7z         Structure = "7z"
	StructureRar        Structure = "rar"
	StructureExecutable Structure = "executable"
	StructurePEM        Structure = "pem"
	StructureShebang    Structure = "shebang"
	StructureData       Structure = "data"
)

// Signals are the inputs to Classify.
type Signals struct {
	Name      string
	Ext       string
	Size      int64
	Structure Structure
	HostOS    string
}

// Result is the classification of one file.
type Result struct {
	Category Category
	Hint     Hint
	Risk     Risk
	// Bucket is the library-relative directory used by organize.
	Bucket    string
	Platforms []string
	// Format names the archive container for extract.
	Format string
	// HostCompatible is set for installers whose platform matches the host.
	HostCompatible bool
}

// ExtOf returns the lowercase extension of name, keeping compound archive
// extensions such as .tar.gz together.
func ExtOf(name string) string {
	_, ext := fileutil.SplitExt(name)
	return strings.ToLower(ext)
}

// Classify maps signals to a category and action hint. It is a pure
// function: the extension tables decide whenever they know the extension,
// and structural signals are consulted only otherwise.
func Classify(s Signals) Result {
	ext := strings.ToLower(strings.TrimSpace(s.Ext))
	if ext == "" {
		ext = ExtOf(s.Name)
	}
	host := strings.ToLower(strings.TrimSpace(s.HostOS))

	if knownExtension(ext) {
		return byExtension(ext, host)
	}
	return byStructure(s.Name, s.Structure)
}

func byExtension(ext, host string) Result {
	if _, ok := archiveExts[ext]; ok {
		return Result{Category: CategoryArchive, Hint: HintExtract, Risk: RiskMedium, Bucket: "data/archives", Format: strings.TrimPrefix(ext, ".")}
	}
	if rule, ok := installers[ext]; ok {
		compatible := slices.Contains(rule.Platforms, host)
		hint := HintOrganize
		if compatible {
			hint = HintInstall
		}
		return Result{
			Category:       CategoryInstaller,
			Hint:           hint,
			Risk:           RiskHigh,
			Bucket:         installerBucket(ext),
			Platforms:      slices.Clone(rule.Platforms),
			HostCompatible: compatible,
		}
	}
	if browsers, ok := extensionBrowsers[ext]; ok {
		return Result{
			Category:  CategoryBrowserExtension,
			Hint:      HintIntegrate,
			Risk:      RiskMedium,
			Bucket:    "extensions/" + browsers[0],
			Platforms: slices.Clone(browsers),
		}
	}
	if _, ok := nativeLibraryExts[ext]; ok {
		return Result{Category: CategoryNativeLibrary, Hint: HintOrganize, Risk: RiskMedium, Bucket: "libraries/system"}
	}
	if bucket, ok := scriptBuckets[ext]; ok {
		return Result{Category: CategoryScript, Hint: HintOrganize, Risk: RiskHigh, Bucket: bucket}
	}
	if _, ok := credentialExts[ext]; ok {
		return Result{Category: CategoryCredential, Hint: HintConvertMetadata, Risk: RiskHigh, Bucket: "certificates/security"}
	}
	if platform, ok := mobilePlatforms[ext]; ok {
		return Result{Category: CategoryMobileApp, Hint: HintOrganize, Risk: RiskMedium, Bucket: "mobile/" + platform, Platforms: []string{platform}}
	}
	if bucket, ok := structuredBuckets[ext]; ok {
		return Result{Category: CategoryStructuredData, Hint: HintOrganize, Risk: RiskLow, Bucket: bucket}
	}
	return unknown("")
}

func byStructure(name string, structure Structure) Result {
	switch structure {
	case StructureZip, StructureGzip, StructureTar, Structure7z, StructureRar:
		format := string(structure)
		if structure == StructureGzip {
			format = "gz"
		}
		return Result{Category: CategoryArchive, Hint: HintExtract, Risk: RiskMedium, Bucket: "data/archives", Format: format}
	case StructureExecutable:
		// A bare binary has no unattended install form; it is filed, never run.
		return Result{Category: CategoryNativeLibrary, Hint: HintOrganize, Risk: RiskHigh, Bucket: "programs/executables"}
	case StructurePEM:
		return Result{Category: CategoryCredential, Hint: HintConvertMetadata, Risk: RiskHigh, Bucket: "certificates/security"}
	case StructureShebang:
		return Result{Category: CategoryScript, Hint: HintOrganize, Risk: RiskHigh, Bucket: "scripts/general"}
	case StructureData:
		return Result{Category: CategoryStructuredData, Hint: HintOrganize, Risk: RiskLow, Bucket: "data/structured"}
	case StructureNone:
		return unknown(name)
	default:
		return unknown(name)
	}
}

func unknown(name string) Result {
	return Result{Category: CategoryUnknown, Hint: HintConvert, Risk: RiskLow, Bucket: bucketForName(name)}
}

func bucketForName(name string) string {
	lower := strings.ToLower(name)
	for _, rule := range nameHeuristics {
		for _, word := range rule.words {
			if strings.Contains(lower, word) {
				return rule.bucket
			}
		}
	}
	return defaultBucket
}

func installerBucket(ext string) string {
	switch ext {
	case ".exe", ".msi":
		return "programs/executables"
	case ".dmg", ".pkg":
		return "apps/macos"
	default:
		return "programs/linux"
	}
}
