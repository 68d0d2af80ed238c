package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyByExtension(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		category Category
		hint     Hint
		bucket   string
	}{
		{"report.zip", "linux", CategoryArchive, HintExtract, "data/archives"},
		{"bundle.tar.gz", "linux", CategoryArchive, HintExtract, "data/archives"},
		{"setup.exe", "windows", CategoryInstaller, HintInstall, "programs/executables"},
		{"setup.exe", "linux", CategoryInstaller, HintOrganize, "programs/executables"},
		{"tool.deb", "linux", CategoryInstaller, HintInstall, "programs/linux"},
		{"App.dmg", "macos", CategoryInstaller, HintInstall, "apps/macos"},
		{"adblock.crx", "linux", CategoryBrowserExtension, HintIntegrate, "extensions/chrome"},
		{"addon.xpi", "linux", CategoryBrowserExtension, HintIntegrate, "extensions/firefox"},
		{"libfoo.so", "linux", CategoryNativeLibrary, HintOrganize, "libraries/system"},
		{"deploy.sh", "linux", CategoryScript, HintOrganize, "scripts/shell"},
		{"Build.PS1", "windows", CategoryScript, HintOrganize, "scripts/powershell"},
		{"server.pem", "linux", CategoryCredential, HintConvertMetadata, "certificates/security"},
		{"game.apk", "linux", CategoryMobileApp, HintOrganize, "mobile/android"},
		{"game.ipa", "linux", CategoryMobileApp, HintOrganize, "mobile/ios"},
		{"settings.json", "linux", CategoryStructuredData, HintOrganize, "configs/system"},
		{"app.ini", "linux", CategoryStructuredData, HintOrganize, "configs/apps"},
		{"sales.csv", "linux", CategoryStructuredData, HintOrganize, "data/structured"},
		{"paper.pdf", "linux", CategoryUnknown, HintConvert, "documents/misc"},
	}
	for _, tc := range tests {
		t.Run(tc.name+"/"+tc.host, func(t *testing.T) {
			got := Classify(Signals{Name: tc.name, HostOS: tc.host})
			require.Equal(t, tc.category, got.Category)
			require.Equal(t, tc.hint, got.Hint)
			require.Equal(t, tc.bucket, got.Bucket)
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	signals := Signals{Name: "setup.msi", Ext: ".msi", Size: 42, HostOS: "windows"}
	first := Classify(signals)
	for range 50 {
		require.Equal(t, first, Classify(signals))
	}
}

func TestNonHostInstallerNeverInstalls(t *testing.T) {
	for _, ext := range []string{".exe", ".msi", ".pkg", ".dmg", ".deb", ".rpm"} {
		rule, ok := LookupInstaller(ext)
		require.True(t, ok)
		for _, host := range []string{"linux", "windows", "macos", "freebsd"} {
			got := Classify(Signals{Name: "x" + ext, HostOS: host})
			compatible := false
			for _, p := range rule.Platforms {
				compatible = compatible || p == host
			}
			if !compatible {
				require.Equal(t, HintOrganize, got.Hint, "%s on %s", ext, host)
				require.False(t, got.HostCompatible)
			}
		}
	}
}

func TestExtensionBeatsStructure(t *testing.T) {
	got := Classify(Signals{Name: "notes.txt.zip", Structure: StructurePEM})
	require.Equal(t, CategoryArchive, got.Category)
}

func TestStructureForUnknownExtensions(t *testing.T) {
	tests := []struct {
		structure Structure
		category  Category
		format    string
	}{
		{StructureZip, CategoryArchive, "zip"},
		{StructureGzip, CategoryArchive, "gz"},
		{StructureExecutable, CategoryNativeLibrary, ""},
		{StructurePEM, CategoryCredential, ""},
		{StructureShebang, CategoryScript, ""},
		{StructureData, CategoryStructuredData, ""},
		{StructureNone, CategoryUnknown, ""},
	}
	for _, tc := range tests {
		got := Classify(Signals{Name: "blob", Structure: tc.structure})
		require.Equal(t, tc.category, got.Category, string(tc.structure))
		require.Equal(t, tc.format, got.Format)
	}
}

func TestUnknownBucketFromName(t *testing.T) {
	require.Equal(t, "configs/system", Classify(Signals{Name: "user_profile.dat"}).Bucket)
	require.Equal(t, "scripts/general", Classify(Signals{Name: "automation-notes"}).Bucket)
	require.Equal(t, "data/structured", Classify(Signals{Name: "storage.bin"}).Bucket)
	require.Equal(t, "documents/misc", Classify(Signals{Name: "holiday.jpg"}).Bucket)
}

func TestModifiableCategories(t *testing.T) {
	require.ElementsMatch(t,
		[]string{"browser_extension", "script", "structured_data", "unknown"},
		ModifiableCategories())
	_, err := ParseCategory("spaceship")
	require.Error(t, err)
	c, err := ParseCategory(" Script ")
	require.NoError(t, err)
	require.Equal(t, CategoryScript, c)
}

func TestInspectSniffsUnknownExtensions(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, data, 0o644))
		return path
	}

	pem := write("cert.blob", []byte("-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----\n"))
	s, err := Inspect(pem, "linux")
	require.NoError(t, err)
	require.Equal(t, StructurePEM, s.Structure)

	script := write("runme", []byte("#!/bin/sh\necho hi\n"))
	s, err = Inspect(script, "linux")
	require.NoError(t, err)
	require.Equal(t, StructureShebang, s.Structure)

	data := write("manifest.conf", []byte("name: demo\nversion: 2\n"))
	s, err = Inspect(data, "linux")
	require.NoError(t, err)
	require.Equal(t, StructureData, s.Structure)

	prose := write("letter.txt", []byte("Dear reader, this is plain text.\n"))
	s, err = Inspect(prose, "linux")
	require.NoError(t, err)
	require.Equal(t, StructureNone, s.Structure)

	known := write("real.json", []byte("not json at all"))
	s, err = Inspect(known, "linux")
	require.NoError(t, err)
	require.Equal(t, StructureNone, s.Structure)
	require.Equal(t, ".json", s.Ext)

	_, err = Inspect(filepath.Join(dir, "missing"), "linux")
	require.Error(t, err)
}

func TestTopLevelKeys(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, TopLevelKeys([]byte(`{"a": 1, "b": [2]}`)))
	require.Nil(t, TopLevelKeys([]byte("- one\n- two\n")))
}

func TestInstallerToolsPerHost(t *testing.T) {
	require.Equal(t, []string{"dpkg", "rpm"}, InstallerTools("linux"))
	require.Equal(t, []string{"installer"}, InstallerTools("macos"))
	require.Equal(t, []string{"msiexec"}, InstallerTools("windows"))
	require.Empty(t, InstallerTools("plan9"))
}
