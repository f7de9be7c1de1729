package orchestrator

import (
	"fmt"
	"strings"
)

// CustomIDKind is the button action a customId names: the second
// "::"-delimited segment, or the third for MJ::JOB::, MJ::Job:: and
// MJ::Settings:: shapes, per spec.md §6's grammar.
type CustomIDKind string

const (
	KindUpsample            CustomIDKind = "upsample"
	KindVariation           CustomIDKind = "variation"
	KindReroll              CustomIDKind = "reroll"
	KindPan                 CustomIDKind = "pan"
	KindPicReader           CustomIDKind = "PicReader"
	KindPromptAnalyzer      CustomIDKind = "PromptAnalyzer"
	KindCustomZoom          CustomIDKind = "CustomZoom"
	KindInpaint             CustomIDKind = "Inpaint"
	KindBookmark            CustomIDKind = "BOOKMARK"
	KindRemixModal          CustomIDKind = "RemixModal"
	KindPanModal            CustomIDKind = "PanModal"
	KindImagineModal        CustomIDKind = "ImagineModal"
	KindHighVariabilityMode CustomIDKind = "HighVariabilityMode"
)

// ParsedCustomID is the bit-exact decomposition of a button customId.
type ParsedCustomID struct {
	Raw   string
	Kind  CustomIDKind
	Index string // grid position, "1".."4" ("0" for reroll)
	Hash  string
	Dir   string // left/right/up/down, Pan and PanModal only
	N     string // PromptAnalyzer line number, or PicReader's 1..4|all
	Extra string // variant flag (0|1) for RemixModal/HighVariabilityMode; opaque tail for Inpaint/BOOKMARK
}

// ParseCustomID decomposes customId per spec.md §6's grammar. It returns an
// error for any shape not listed there.
func ParseCustomID(customID string) (ParsedCustomID, error) {
	parts := strings.Split(customID, "::")
	if len(parts) < 2 || parts[0] != "MJ" {
		return ParsedCustomID{}, fmt.Errorf("customId %q: not an MJ:: grammar", customID)
	}
	out := ParsedCustomID{Raw: customID}

	switch parts[1] {
	case "JOB":
		return parseJob(parts, out)
	case "Job":
		return parseJobLower(parts, out)
	case "CustomZoom":
		if len(parts) < 3 {
			return out, fmt.Errorf("customId %q: missing hash", customID)
		}
		out.Kind = KindCustomZoom
		out.Hash = parts[2]
		return out, nil
	case "Inpaint":
		out.Kind = KindInpaint
		out.Extra = strings.Join(parts[2:], "::")
		return out, nil
	case "BOOKMARK":
		out.Kind = KindBookmark
		out.Extra = strings.Join(parts[2:], "::")
		return out, nil
	case "RemixModal":
		if len(parts) < 5 {
			return out, fmt.Errorf("customId %q: RemixModal needs hash::index::variant", customID)
		}
		out.Kind = KindRemixModal
		out.Hash = parts[2]
		out.Index = parts[3]
		out.Extra = parts[4]
		return out, nil
	case "PanModal":
		if len(parts) < 5 {
			return out, fmt.Errorf("customId %q: PanModal needs dir::hash::index", customID)
		}
		out.Kind = KindPanModal
		out.Dir = parts[2]
		out.Hash = parts[3]
		out.Index = parts[4]
		return out, nil
	case "ImagineModal":
		if len(parts) < 3 {
			return out, fmt.Errorf("customId %q: ImagineModal needs messageId", customID)
		}
		out.Kind = KindImagineModal
		out.Extra = parts[2] // messageId
		return out, nil
	case "Settings":
		if len(parts) < 4 || parts[2] != "HighVariabilityMode" {
			return out, fmt.Errorf("customId %q: unrecognized Settings shape", customID)
		}
		out.Kind = KindHighVariabilityMode
		out.Extra = parts[3]
		return out, nil
	default:
		return out, fmt.Errorf("customId %q: unrecognized kind %q", customID, parts[1])
	}
}

func parseJob(parts []string, out ParsedCustomID) (ParsedCustomID, error) {
	if len(parts) < 3 {
		return out, fmt.Errorf("customId %q: JOB needs an action", out.Raw)
	}
	action := parts[2]
	switch {
	case action == "upsample" || action == "variation":
		if len(parts) < 5 {
			return out, fmt.Errorf("customId %q: %s needs index::hash", out.Raw, action)
		}
		out.Kind = CustomIDKind(action)
		out.Index = parts[3]
		out.Hash = parts[4]
		return out, nil
	case action == "reroll":
		if len(parts) < 6 {
			return out, fmt.Errorf("customId %q: reroll needs 0::hash::SOLO", out.Raw)
		}
		out.Kind = KindReroll
		out.Index = parts[3]
		out.Hash = parts[4]
		return out, nil
	case strings.HasPrefix(action, "pan_"):
		if len(parts) < 5 {
			return out, fmt.Errorf("customId %q: pan_%s needs index::hash", out.Raw, action)
		}
		out.Kind = KindPan
		out.Dir = strings.TrimPrefix(action, "pan_")
		out.Index = parts[3]
		out.Hash = parts[4]
		return out, nil
	case action == "PicReader":
		if len(parts) < 4 {
			return out, fmt.Errorf("customId %q: PicReader needs 1..4|all", out.Raw)
		}
		out.Kind = KindPicReader
		out.N = parts[3]
		return out, nil
	default:
		return out, fmt.Errorf("customId %q: unrecognized JOB action %q", out.Raw, action)
	}
}

func parseJobLower(parts []string, out ParsedCustomID) (ParsedCustomID, error) {
	if len(parts) < 4 || parts[2] != "PromptAnalyzer" {
		return out, fmt.Errorf("customId %q: unrecognized Job:: shape", out.Raw)
	}
	out.Kind = KindPromptAnalyzer
	out.N = parts[3]
	return out, nil
}
