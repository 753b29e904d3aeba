package importer

import (
	"archive/zip"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hummel22/bambuQueue/internal/config"
	"github.com/hummel22/bambuQueue/internal/db"
	"github.com/hummel22/bambuQueue/internal/logging"
	"github.com/hummel22/bambuQueue/internal/telemetry"
)

// ArtifactSuffix is the container extension accepted for import.
const ArtifactSuffix = ".gcode.3mf"

var plateIndexPattern = regexp.MustCompile(`(?i)plate[_ -]?([0-9]+)`)

// EventSink receives job lifecycle notifications. Implementations must not
// block.
type EventSink interface {
	JobImported(jobID int64, name, file string)
}

// Importer turns an artifact dropped in the import directory into one
// persisted job per plate, relocating the container into the jobs
// directory.
type Importer struct {
	paths  config.PathsConfig
	store  *db.Store
	events EventSink
	log    *logrus.Entry
}

type printMetadata struct {
	EstimatedTime   string `json:"estimated_time,omitempty"`
	EstimatedLength string `json:"estimated_length,omitempty"`
	MaterialUsage   string `json:"material_usage,omitempty"`
}

func New(paths config.PathsConfig, store *db.Store, events EventSink) *Importer {
	return &Importer{
		paths:  paths,
		store:  store,
		events: events,
		log:    logging.Component("importer"),
	}
}

// ImportFile ingests one artifact. Re-importing a path a job already
// references is a successful no-op. When the archive cannot be read or the
// move fails, the source file is left in place for a later retry. A failure
// while inserting job rows happens after the move: the artifact stays in
// the jobs directory and is not moved back to the import directory.
func (i *Importer) ImportFile(ctx context.Context, filePath string) error {
	if filePath == "" {
		return fmt.Errorf("missing artifact import path")
	}

	exists, err := i.store.JobExistsForFile(ctx, filePath)
	if err != nil {
		i.log.WithError(err).Warn("job existence probe failed, importing anyway")
	}
	if exists {
		return nil
	}

	contents, err := inspectArchive(filePath)
	if err != nil {
		telemetry.ImportFailures.Inc()
		return err
	}

	baseName := BaseName(filePath)
	targetFilePath := resolveUniquePath(i.paths.JobsDir, baseName, ArtifactSuffix)
	if err := moveFile(filePath, targetFilePath); err != nil {
		telemetry.ImportFailures.Inc()
		return fmt.Errorf("unable to move imported file to %s: %w", targetFilePath, err)
	}

	thumbnailPath := ""
	if contents.thumbnailEntry != "" {
		thumbnailPath = resolveUniquePath(i.paths.JobsDir, baseName+"_thumb", ".png")
		if err := extractEntry(targetFilePath, contents.thumbnailEntry, thumbnailPath); err != nil {
			i.log.WithError(err).WithField("file", targetFilePath).
				Warn("thumbnail extraction failed")
			thumbnailPath = ""
		}
	}

	plates := contents.plates
	if len(plates) == 0 {
		plates = []db.PlateDefinition{{PlateIndex: 1, Name: "Plate 1"}}
	}

	metadataJSON := buildMetadataJSON(contents.metadata)
	for _, plate := range plates {
		plateName := plate.Name
		if plateName == "" {
			plateName = fmt.Sprintf("Plate %d", plate.PlateIndex)
		}
		jobName := fmt.Sprintf("%s - %s", baseName, plateName)
		jobID, err := i.store.InsertImportedJob(ctx, jobName, targetFilePath, thumbnailPath,
			metadataJSON, []db.PlateDefinition{plate})
		if err != nil {
			telemetry.ImportFailures.Inc()
			return err
		}
		telemetry.ImportedJobs.Inc()
		if i.events != nil {
			i.events.JobImported(jobID, jobName, targetFilePath)
		}
	}

	i.log.WithFields(logrus.Fields{
		"file":   targetFilePath,
		"plates": len(plates),
	}).Info("imported artifact")
	return nil
}

// BaseName strips the artifact suffix (case-insensitively) from the file's
// basename.
func BaseName(path string) string {
	name := filepath.Base(path)
	if hasSuffixFold(name, ArtifactSuffix) {
		return name[:len(name)-len(ArtifactSuffix)]
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// IsArtifact reports whether name looks like an importable container.
func IsArtifact(name string) bool {
	return hasSuffixFold(name, ArtifactSuffix)
}

type archiveContents struct {
	thumbnailEntry string
	metadata       printMetadata
	plates         []db.PlateDefinition
}

// inspectArchive enumerates the ZIP once: the first thumbnail and metadata
// entries win, every .gcode entry becomes a plate candidate.
func inspectArchive(filePath string) (*archiveContents, error) {
	reader, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("unable to open artifact %s: %w", filePath, err)
	}
	defer reader.Close()

	contents := &archiveContents{}
	var metadataEntry *zip.File
	var gcodeEntries []string

	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		lower := strings.ToLower(entry.Name)
		if contents.thumbnailEntry == "" && isThumbnailEntry(lower) {
			contents.thumbnailEntry = entry.Name
		}
		if metadataEntry == nil && strings.HasSuffix(lower, "metadata.xml") {
			metadataEntry = entry
		}
		if strings.HasSuffix(lower, ".gcode") {
			gcodeEntries = append(gcodeEntries, entry.Name)
		}
	}

	if metadataEntry != nil {
		if err := readMetadataEntry(metadataEntry, &contents.metadata); err != nil {
			logging.Component("importer").WithError(err).
				WithField("entry", metadataEntry.Name).
				Warn("failed to read artifact metadata")
		}
	}

	contents.plates = platesFromEntries(gcodeEntries)
	return contents, nil
}

func isThumbnailEntry(lowerName string) bool {
	return strings.HasSuffix(lowerName, "thumbnail.png") ||
		strings.HasSuffix(lowerName, "thumbnail.jpg") ||
		strings.HasSuffix(lowerName, "thumbnail.jpeg")
}

func readMetadataEntry(entry *zip.File, metadata *printMetadata) error {
	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open metadata entry: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("failed to read metadata entry: %w", err)
	}
	return parseMetadataXML(data, metadata)
}

// parseMetadataXML extracts the estimated time, length and material usage
// fields by fuzzy keyword match on each <metadata name="..."> child; the
// first non-empty match wins per field.
func parseMetadataXML(data []byte, metadata *printMetadata) error {
	var doc struct {
		Entries []struct {
			Name  string `xml:"name,attr"`
			Value string `xml:",chardata"`
		} `xml:"metadata"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse metadata xml: %w", err)
	}

	for _, entry := range doc.Entries {
		normalized := normalizeMetadataName(entry.Name)
		value := strings.TrimSpace(entry.Value)
		if value == "" {
			continue
		}

		switch {
		case metadata.EstimatedTime == "" &&
			strings.Contains(normalized, "time") && strings.Contains(normalized, "estimate"):
			metadata.EstimatedTime = value
		case metadata.EstimatedLength == "" &&
			(strings.Contains(normalized, "length") || strings.Contains(normalized, "filament")):
			metadata.EstimatedLength = value
		case metadata.MaterialUsage == "" &&
			(strings.Contains(normalized, "material") || strings.Contains(normalized, "usage") ||
				strings.Contains(normalized, "weight")):
			metadata.MaterialUsage = value
		}
	}
	return nil
}

func normalizeMetadataName(name string) string {
	normalized := strings.ToLower(name)
	for _, ch := range []string{" ", "_", "-"} {
		normalized = strings.ReplaceAll(normalized, ch, "")
	}
	return normalized
}

// platesFromEntries derives plate definitions from .gcode entry names.
// A plate_<n> marker in the basename wins; otherwise the entry's 1-based
// position is used. Duplicate indices collapse to one plate.
func platesFromEntries(entries []string) []db.PlateDefinition {
	plateMap := make(map[int]string)
	for position, entry := range entries {
		lower := strings.ToLower(filepath.Base(entry))
		plateIndex := 0
		if match := plateIndexPattern.FindStringSubmatch(lower); match != nil {
			if parsed, err := strconv.Atoi(match[1]); err == nil && parsed > 0 {
				plateIndex = parsed
			}
		}
		if plateIndex == 0 {
			plateIndex = position + 1
		}
		plateMap[plateIndex] = fmt.Sprintf("Plate %d", plateIndex)
	}

	plates := make([]db.PlateDefinition, 0, len(plateMap))
	for index, name := range plateMap {
		plates = append(plates, db.PlateDefinition{PlateIndex: index, Name: name})
	}
	sort.Slice(plates, func(a, b int) bool {
		return plates[a].PlateIndex < plates[b].PlateIndex
	})
	return plates
}

func buildMetadataJSON(metadata printMetadata) string {
	if metadata == (printMetadata{}) {
		return ""
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return ""
	}
	return string(data)
}

func extractEntry(archivePath, entryName, destinationPath string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("unable to open artifact for extraction: %w", err)
	}
	defer reader.Close()

	for _, entry := range reader.File {
		if entry.Name != entryName {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("failed to open entry %s: %w", entryName, err)
		}
		defer rc.Close()

		out, err := os.Create(destinationPath)
		if err != nil {
			return fmt.Errorf("unable to write %s: %w", destinationPath, err)
		}
		defer out.Close()

		if _, err := io.Copy(out, rc); err != nil {
			return fmt.Errorf("failed to extract %s: %w", entryName, err)
		}
		return out.Close()
	}
	return fmt.Errorf("entry %s not found in artifact", entryName)
}

// resolveUniquePath returns dir/base+ext, appending -1, -2, ... before the
// extension until the name is free.
func resolveUniquePath(dir, baseName, extension string) string {
	candidate := filepath.Join(dir, baseName+extension)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}

	for counter := 1; ; counter++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%d%s", baseName, counter, extension))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

func moveFile(source, destination string) error {
	if err := os.Rename(source, destination); err == nil {
		return nil
	}

	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(destination)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		os.Remove(destination)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Remove(source)
}

func hasSuffixFold(s, suffix string) bool {
	return len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix)
}
