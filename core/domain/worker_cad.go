package domain

import (
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// CAD format catalogue.
var (
	NativeCADExtensions = []string{".sldprt", ".sldasm", ".slddrw"}
	ImportFormats       = []string{"STEP", "IGES", "STL", "OBJ", "3MF", "PLY"}
	ExportFormats       = []string{"STEP", "IGES", "STL", "PDF", "DWG", "DXF", "OBJ", "3MF"}
)

var formatExtensions = map[string][]string{
	"STEP": {".step", ".stp"},
	"IGES": {".iges", ".igs"},
	"STL":  {".stl"},
	"PDF":  {".pdf"},
	"DWG":  {".dwg"},
	"DXF":  {".dxf"},
	"OBJ":  {".obj"},
	"3MF":  {".3mf"},
	"PLY":  {".ply"},
}

// ExportTemplates are named option presets per export format.
var ExportTemplates = map[string]map[string]map[string]any{
	"STEP": {
		"high_quality": {"units": "millimeters", "precision": "high", "include_surfaces": true, "include_curves": true},
		"standard":     {"units": "millimeters", "precision": "medium", "include_surfaces": true, "include_curves": false},
	},
	"STL": {
		"high_resolution": {"units": "millimeters", "resolution": "fine", "angular_tolerance": 0.1, "chord_tolerance": 0.01},
		"3d_printing":     {"units": "millimeters", "resolution": "medium", "angular_tolerance": 0.5, "chord_tolerance": 0.1},
	},
	"PDF": {
		"technical_drawing": {"page_size": "A4", "orientation": "landscape", "include_dimensions": true, "include_annotations": true, "quality": "high"},
		"presentation":      {"page_size": "A4", "orientation": "portrait", "include_dimensions": false, "include_annotations": false, "quality": "medium"},
	},
}

// NormalizeFormat upper-cases a format name and strips a leading dot.
func NormalizeFormat(format string) string {
	return strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(format), "."))
}

// IsExportFormat reports whether format can be produced by the exporter.
func IsExportFormat(format string) bool {
	return contains(ExportFormats, NormalizeFormat(format))
}

// ExtensionFor returns the canonical file extension for a format.
func ExtensionFor(format string) string {
	exts := formatExtensions[NormalizeFormat(format)]
	if len(exts) == 0 {
		return ""
	}
	return exts[0]
}

// MatchesFormat reports whether path carries an extension of the given format.
func MatchesFormat(path, format string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range formatExtensions[NormalizeFormat(format)] {
		if e == ext {
			return true
		}
	}
	return false
}

// CanonicalCADPath is the slash-separated, cleaned form of a CAD item id.
// Two ids naming the same file share it.
func CanonicalCADPath(id string) string {
	return path.Clean(filepath.ToSlash(id))
}

// ExportOutputName is the artifact path of id relative to the export
// directory. It keeps the source directory and extension, so distinct source
// files never share an artifact: a/part.sldprt becomes a/part.sldprt.step.
func ExportOutputName(id, format string) string {
	return CanonicalCADPath(id) + ExtensionFor(format)
}

// IsReadableCAD reports whether a file can be opened as a CAD source.
func IsReadableCAD(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if contains(NativeCADExtensions, ext) {
		return true
	}
	for _, f := range ImportFormats {
		if MatchesFormat(path, f) {
			return true
		}
	}
	return false
}

// TemplateNames returns the sorted template names of a format.
func TemplateNames(format string) []string {
	tmpls := ExportTemplates[NormalizeFormat(format)]
	names := make([]string, 0, len(tmpls))
	for name := range tmpls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FormatCatalogue is the format listing exposed to callers.
type FormatCatalogue struct {
	Import    []string                             `json:"import_formats"`
	Export    []string                             `json:"export_formats"`
	Templates map[string]map[string]map[string]any `json:"export_templates"`
}

// Catalogue returns the supported formats and export templates.
func Catalogue() FormatCatalogue {
	return FormatCatalogue{
		Import:    ImportFormats,
		Export:    ExportFormats,
		Templates: ExportTemplates,
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
