package inferconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/edgevision/dsdetect/pkg/labels"
	"github.com/stretchr/testify/require"
)

func writeBaseConfig(t *testing.T, dir string) string {
	base := filepath.Join(dir, "config_infer.txt")
	content := `# primary detector
[property]
gpu-id=0
model-engine-file=/opt/models/yolo11s_b1.engine
labelfile-path=/models/labels.txt

[class-attrs-all]
pre-cluster-threshold=0.4
`
	require.NoError(t, os.WriteFile(base, []byte(content), 0644))
	return base
}

func TestGenerateFiltered(t *testing.T) {
	log := logs.NewTestingLog(t)
	dir := t.TempDir()
	base := writeBaseConfig(t, dir)
	scratch := filepath.Join(dir, "config_infer_filtered.txt")
	idx := labels.NewIndex([]string{"person", "car", "dog"})

	path, classID, enabled := GenerateFiltered(log, idx, "car", base, scratch)
	require.True(t, enabled)
	require.Equal(t, 1, classID)
	require.Equal(t, scratch, path)

	cfg, err := ParseFile(scratch)
	require.NoError(t, err)

	// Ends with the permissive per-class section followed by the prohibitive catch-all.
	n := len(cfg.Sections)
	require.Equal(t, "class-attrs-1", cfg.Sections[n-2].Name)
	v, ok := cfg.Sections[n-2].Value("pre-cluster-threshold")
	require.True(t, ok)
	require.Equal(t, "0.25", v)
	require.Equal(t, "class-attrs-all", cfg.Sections[n-1].Name)
	v, ok = cfg.Sections[n-1].Value("pre-cluster-threshold")
	require.True(t, ok)
	require.Equal(t, "1.0", v)

	// Other sections preserved in order, with the engine file rewritten.
	require.Equal(t, "property", cfg.Sections[0].Name)
	v, ok = cfg.Sections[0].Value("model-engine-file")
	require.True(t, ok)
	require.Equal(t, "/workdir/model_b1_gpu0_fp32.engine", v)
	v, ok = cfg.Sections[0].Value("labelfile-path")
	require.True(t, ok)
	require.Equal(t, "/models/labels.txt", v)
}

func TestGenerateFilteredLabelMissing(t *testing.T) {
	log := logs.NewTestingLog(t)
	dir := t.TempDir()
	base := writeBaseConfig(t, dir)
	scratch := filepath.Join(dir, "config_infer_filtered.txt")
	idx := labels.NewIndex([]string{"person", "car", "dog"})

	path, classID, enabled := GenerateFiltered(log, idx, "bicycle", base, scratch)
	require.False(t, enabled)
	require.Equal(t, -1, classID)
	require.Equal(t, base, path)

	// No scratch file may be written on the degraded path.
	_, err := os.Stat(scratch)
	require.True(t, os.IsNotExist(err))
}

func TestGenerateFilteredConfigMissing(t *testing.T) {
	log := logs.NewTestingLog(t)
	dir := t.TempDir()
	base := filepath.Join(dir, "absent.txt")
	scratch := filepath.Join(dir, "config_infer_filtered.txt")
	idx := labels.NewIndex([]string{"person"})

	path, classID, enabled := GenerateFiltered(log, idx, "person", base, scratch)
	require.False(t, enabled)
	require.Equal(t, -1, classID)
	require.Equal(t, base, path)
}

func TestGenerateFilteredIdempotent(t *testing.T) {
	log := logs.NewTestingLog(t)
	dir := t.TempDir()
	base := writeBaseConfig(t, dir)
	idx := labels.NewIndex([]string{"person", "car", "dog"})

	scratch1 := filepath.Join(dir, "filtered1.txt")
	_, _, enabled := GenerateFiltered(log, idx, "car", base, scratch1)
	require.True(t, enabled)

	// Re-applying the generator to its own output must not accumulate sections.
	scratch2 := filepath.Join(dir, "filtered2.txt")
	_, _, enabled = GenerateFiltered(log, idx, "car", scratch1, scratch2)
	require.True(t, enabled)

	once, err := os.ReadFile(scratch1)
	require.NoError(t, err)
	twice, err := os.ReadFile(scratch2)
	require.NoError(t, err)
	require.Equal(t, string(once), string(twice))
}

func TestEngineRewritePassThrough(t *testing.T) {
	log := logs.NewTestingLog(t)
	dir := t.TempDir()
	base := filepath.Join(dir, "config_infer.txt")
	content := `[property]
model-engine-file=/opt/models/resnet10_b1.engine
`
	require.NoError(t, os.WriteFile(base, []byte(content), 0644))
	scratch := filepath.Join(dir, "filtered.txt")
	require.True(t, GenerateForClass(log, 0, base, scratch))

	cfg, err := ParseFile(scratch)
	require.NoError(t, err)
	v, ok := cfg.Sections[0].Value("model-engine-file")
	require.True(t, ok)
	require.Equal(t, "/opt/models/resnet10_b1.engine", v)
}

func TestGenerateForClassUnwritableScratch(t *testing.T) {
	log := logs.NewTestingLog(t)
	dir := t.TempDir()
	base := writeBaseConfig(t, dir)
	scratch := filepath.Join(dir, "no-such-dir", "filtered.txt")
	require.False(t, GenerateForClass(log, 1, base, scratch))
}
