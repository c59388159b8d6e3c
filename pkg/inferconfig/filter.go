package inferconfig

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/edgevision/dsdetect/pkg/labels"
)

// Detection score thresholds written into the generated config.
// The permissive value keeps the target class's detections; the prohibitive value
// is the exclusive upper bound of the score range, so no detection of any other
// class can survive clustering.
const (
	PermissiveThreshold  = "0.25"
	ProhibitiveThreshold = "1.0"
)

const classAttrsAll = "class-attrs-all"

// EngineOverride maps a filename substring to the canonical engine file path for
// this deployment. This is configuration data, not behavior.
type EngineOverride struct {
	Substring  string
	EnginePath string
}

// EngineOverrides is consulted when rewriting model-engine-file values.
// Filenames that match no entry pass through unchanged.
var EngineOverrides = []EngineOverride{
	{Substring: "yolo11s", EnginePath: "/workdir/model_b1_gpu0_fp32.engine"},
	{Substring: "yolo11n", EnginePath: "/workdir/yolo11n_b1_gpu0_fp32.engine"},
}

// GenerateFiltered rewrites the detector config at basePath so that only target's
// detections survive, writing the result to scratchPath.
// It returns the config path the pipeline should use, the resolved class id, and
// whether filtering is active. Every failure degrades to "no filtering": the
// original path is returned and the system runs with full detection.
func GenerateFiltered(log logs.Log, idx *labels.Index, target, basePath, scratchPath string) (string, int, bool) {
	classID, ok := idx.Resolve(target)
	if !ok {
		log.Warnf("Could not find '%v' in labels file. Class filtering disabled, showing all detections.", target)
		return basePath, -1, false
	}
	log.Infof("Target object '%v' (class ID: %v)", target, classID)
	if !GenerateForClass(log, classID, basePath, scratchPath) {
		return basePath, -1, false
	}
	return scratchPath, classID, true
}

// GenerateForClass rewrites the detector config at basePath so that only classID's
// detections survive, writing the result to scratchPath. Returns false (and leaves
// no usable scratch file behind) if the base config cannot be read or the scratch
// path cannot be written.
func GenerateForClass(log logs.Log, classID int, basePath, scratchPath string) bool {
	cfg, err := ParseFile(basePath)
	if err != nil {
		log.Warnf("Cannot read detector config %v: %v. Class filtering disabled.", basePath, err)
		return false
	}

	rewriteEngineFiles(cfg)

	// Drop the catch-all threshold section, and any previous per-class section for
	// this id, so that re-running the generator on its own output does not
	// accumulate duplicates.
	classSection := fmt.Sprintf("class-attrs-%v", classID)
	cfg.DropSections(classAttrsAll, classSection)

	// Only the target class gets a reachable threshold. Everything else falls under
	// the catch-all, whose threshold no valid score can reach.
	if n := len(cfg.Sections); n != 0 {
		last := cfg.Sections[n-1]
		if len(last.Lines) == 0 || last.Lines[len(last.Lines)-1] != "" {
			last.Lines = append(last.Lines, "")
		}
	}
	cfg.Sections = append(cfg.Sections,
		&Section{Name: classSection, Lines: []string{"pre-cluster-threshold=" + PermissiveThreshold, ""}},
		&Section{Name: classAttrsAll, Lines: []string{"pre-cluster-threshold=" + ProhibitiveThreshold}},
	)

	if err := cfg.WriteFile(scratchPath); err != nil {
		log.Warnf("Cannot write filtered config %v: %v. Class filtering disabled.", scratchPath, err)
		return false
	}
	log.Infof("Created filtered config: %v", scratchPath)
	return true
}

// rewriteEngineFiles points model-engine-file values at the engine files that
// actually exist in this deployment, keyed by filename substring.
func rewriteEngineFiles(cfg *Config) {
	rewriteEngineLines(cfg.Prelude)
	for _, s := range cfg.Sections {
		rewriteEngineLines(s.Lines)
	}
}

func rewriteEngineLines(lines []string) {
	for i, line := range lines {
		k, v, ok := splitKeyValue(line)
		if !ok || k != "model-engine-file" {
			continue
		}
		filename := filepath.Base(v)
		for _, o := range EngineOverrides {
			if strings.Contains(filename, o.Substring) {
				lines[i] = "model-engine-file=" + o.EnginePath
				break
			}
		}
	}
}
