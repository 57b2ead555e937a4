package snapviewcli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/function61/snapview/pkg/fsentry"
	"github.com/function61/snapview/pkg/fssnapshot"
	"github.com/function61/snapview/pkg/fswalker"
	"github.com/function61/snapview/pkg/snapregistry"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

// rendered table is flushed every this many rows, so a long walk shows progress
const tableRowsPerPage = 100

type entryPrinter interface {
	Print(fsentry.FileEntry) error
	Flush() error
}

func newEntryPrinter(output io.Writer, forceJSON bool) entryPrinter {
	if !forceJSON && isTerminal(output) {
		return &tablePrinter{output: output}
	} else {
		return &jsonLinesPrinter{encoder: json.NewEncoder(output)}
	}
}

type tablePrinter struct {
	output io.Writer
	rows   [][]string
}

func (t *tablePrinter) Print(entry fsentry.FileEntry) error {
	size := ""
	if entry.IsRegular() {
		size = humanize.Bytes(uint64(entry.Size))
	}

	modified := ""
	if !entry.LastWrite.IsZero() {
		modified = entry.LastWrite.Format("2006-01-02 15:04")
	}

	details := ""
	switch entry.Kind {
	case fsentry.KindSymlink:
		details = "-> " + entry.SymlinkTarget
	case fsentry.KindError:
		details = entry.Err.Error()
	}

	t.rows = append(t.rows, []string{entry.Kind.String(), size, modified, entry.Path, details})

	if len(t.rows) >= tableRowsPerPage {
		return t.Flush()
	}

	return nil
}

func (t *tablePrinter) Flush() error {
	if len(t.rows) == 0 {
		return nil
	}

	tbl := tablewriter.NewWriter(t.output)
	tbl.SetAutoFormatHeaders(false)
	tbl.SetBorder(false)
	tbl.SetHeader([]string{"Kind", "Size", "Modified", "Path", ""})
	for _, row := range t.rows {
		tbl.Append(row)
	}
	tbl.Render()

	t.rows = nil

	return nil
}

type jsonEntry struct {
	Path           string            `json:"path"`
	Kind           string            `json:"kind"`
	Size           int64             `json:"size,omitempty"`
	LastWrite      *time.Time        `json:"last_write,omitempty"`
	Attributes     string            `json:"attributes,omitempty"`
	SymlinkTarget  string            `json:"symlink_target,omitempty"`
	BlockDevice    bool              `json:"block_device,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	MetadataErrors map[string]string `json:"metadata_errors,omitempty"`
	Error          string            `json:"error,omitempty"`
}

func toJSONEntry(entry fsentry.FileEntry) jsonEntry {
	out := jsonEntry{
		Path:           entry.Path,
		Kind:           entry.Kind.String(),
		Size:           entry.Size,
		SymlinkTarget:  entry.SymlinkTarget,
		BlockDevice:    entry.BlockDevice,
		Metadata:       entry.Metadata,
		MetadataErrors: entry.MetadataErrors,
	}

	if !entry.LastWrite.IsZero() {
		lastWrite := entry.LastWrite.UTC()
		out.LastWrite = &lastWrite
	}

	if entry.Attributes != 0 {
		out.Attributes = entry.Attributes.String()
	}

	if entry.Err != nil {
		out.Error = entry.Err.Error()
	}

	return out
}

type jsonLinesPrinter struct {
	encoder *json.Encoder
}

func (j *jsonLinesPrinter) Print(entry fsentry.FileEntry) error {
	return j.encoder.Encode(toJSONEntry(entry))
}

func (j *jsonLinesPrinter) Flush() error {
	return nil
}

func printEntryDetails(entry fsentry.FileEntry, kind fssnapshot.Kind, output io.Writer) error {
	lines := []string{
		"path:        " + entry.Path,
		"kind:        " + entry.Kind.String(),
		"provider:    " + string(kind),
		"size:        " + fmt.Sprintf("%d (%s)", entry.Size, humanize.Bytes(uint64(entry.Size))),
		"modified:    " + entry.LastWrite.Format(time.RFC3339Nano),
		"attributes:  " + entry.Attributes.String(),
	}

	if entry.Kind == fsentry.KindSymlink {
		lines = append(lines, "target:      "+entry.SymlinkTarget)
	}

	if entry.BlockDevice {
		lines = append(lines, "blockdevice: yes")
	}

	keys := lo.Keys(entry.Metadata)
	sort.Strings(keys)
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("  %s = %s", key, entry.Metadata[key]))
	}

	failedKeys := lo.Keys(entry.MetadataErrors)
	sort.Strings(failedKeys)
	for _, key := range failedKeys {
		lines = append(lines, fmt.Sprintf("  %s: ERROR %s", key, entry.MetadataErrors[key]))
	}

	_, err := fmt.Fprintln(output, strings.Join(lines, "\n"))
	return err
}

func printOrphans(orphans []snapregistry.Record, output io.Writer) {
	if len(orphans) == 0 {
		fmt.Fprintln(output, "no orphaned snapshots")
		return
	}

	tbl := tablewriter.NewWriter(output)
	tbl.SetAutoFormatHeaders(false)
	tbl.SetBorder(false)
	tbl.SetHeader([]string{"Session", "Snapshot", "Kind", "Volume", "Mounted at", "Created"})

	for _, orphan := range orphans {
		tbl.Append([]string{
			orphan.SessionID,
			orphan.Snapshot.ID,
			string(orphan.Snapshot.Kind),
			orphan.Snapshot.Volume.MountPoint,
			orphan.Snapshot.SnapshotRootMountPath,
			humanize.Time(orphan.Snapshot.Created),
		})
	}

	tbl.Render()
}

func summarizeStats(stats fswalker.Stats) string {
	return fmt.Sprintf(
		"%d entries: %d files (%s), %d dirs, %d symlinks, %d devices, %d other, %d errors; excluded %d, pruned %d, volume boundaries %d, followed %d",
		stats.Yielded,
		stats.Files,
		humanize.Bytes(uint64(stats.Bytes)),
		stats.Directories,
		stats.Symlinks,
		stats.BlockDevices,
		stats.Other,
		stats.Errors,
		stats.ExcludedEntries,
		stats.PrunedSubtrees,
		stats.VolumeBoundaries,
		stats.FollowedSymlinks)
}

// predicate answering IncludeFollowSymlink for symlinks the inner one includes
func followingSymlinks(inner fsentry.Predicate) fsentry.Predicate {
	return func(path string, kind fsentry.Kind) fsentry.Decision {
		decision := inner(path, kind)
		if kind == fsentry.KindSymlink && decision == fsentry.Include {
			return fsentry.IncludeFollowSymlink
		}

		return decision
	}
}

func isTerminal(output io.Writer) bool {
	file, isFile := output.(*os.File)
	return isFile && isatty.IsTerminal(file.Fd())
}
