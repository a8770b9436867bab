package draw

import (
	"fmt"
	"strings"
)

// riskExport maps risk levels to the form's combo export values
// (per form: ['0',' '], ['1','EH'], ['2','H'], ['3','M'], ['4','L']).
var riskExport = map[string]string{
	"EH": "1",
	"E":  "1",
	"H":  "2",
	"M":  "3",
	"L":  "4",
}

// overallExport maps the overall residual level to the block 10 radio
// export names (/EH, /H, /M, /L).
var overallExport = map[string]string{
	"EH": "EH",
	"E":  "EH",
	"H":  "H",
	"M":  "M",
	"L":  "L",
}

// normalizeText replaces the unicode space variants that render as block
// glyphs in form viewers (U+00A0, U+202F, U+2009, U+2011) with plain spaces.
func normalizeText(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', ' ', ' ', '‑':
			return ' '
		}
		return r
	}, s)
}

// BuildFieldValues converts a worksheet into PDF field name -> value pairs.
//
// Field names match those present in the DD-2977 template: mission,
// prep_name, sub_N, haz_N, control_N, how_N, who_N, init_riskN, res_riskN,
// plus the overall_res and xapp radio groups.
func BuildFieldValues(ws *Worksheet) map[string]string {
	fields := map[string]string{}

	fields["mission"] = normalizeText(ws.MissionTaskAndDescription)
	fields["date"] = normalizeText(ws.Date)

	fields["prep_name"] = normalizeText(ws.PreparedBy.Name)
	fields["prep_rank"] = normalizeText(ws.PreparedBy.RankGrade)
	fields["prep_title"] = normalizeText(ws.PreparedBy.DutyTitle)
	fields["prep_unit"] = normalizeText(ws.PreparedBy.Unit)
	fields["prep_email"] = normalizeText(ws.PreparedBy.WorkEmail)
	fields["prep_phone"] = normalizeText(ws.PreparedBy.Telephone)
	fields["prep_uic"] = normalizeText(ws.PreparedBy.UICCIN)
	fields["prep_plan"] = normalizeText(ws.PreparedBy.Plan)

	fields["overall_plan"] = normalizeText(ws.OverallSupervisionPlan)

	for i, item := range ws.Subtasks {
		idx := i + 1
		if idx > maxRows {
			break
		}

		var subName string
		if item.Subtask != nil {
			subName = item.Subtask.Name
		}
		fields[fmt.Sprintf("sub_%d", idx)] = normalizeText(subName)
		fields[fmt.Sprintf("haz_%d", idx)] = normalizeText(item.Hazard)

		if item.Control != nil {
			var b strings.Builder
			for _, v := range item.Control.Values {
				fmt.Fprintf(&b, "- %s\n", normalizeText(v))
			}
			fields[fmt.Sprintf("control_%d", idx)] = strings.TrimRight(b.String(), "\n")
		}

		if how := item.HowToImplement.How; how != nil && len(how.Values) > 0 {
			fields[fmt.Sprintf("how_%d", idx)] = joinNormalized(how.Values)
		}
		if who := item.HowToImplement.Who; who != nil && len(who.Values) > 0 {
			fields[fmt.Sprintf("who_%d", idx)] = joinNormalized(who.Values)
		}

		if level := strings.ToUpper(normalizeText(item.InitialRiskLevel)); level != "" {
			fields[fmt.Sprintf("init_risk%d", idx)] = exportRisk(level)
		}
		if level := strings.ToUpper(normalizeText(item.ResidualRiskLevel)); level != "" {
			fields[fmt.Sprintf("res_risk%d", idx)] = exportRisk(level)
		}
	}

	// Block 10: overall residual risk radio group. A blank form has LOW
	// selected, so that is the default.
	overall := strings.ToUpper(normalizeText(ws.OverallResidualRiskLevel))
	if v, ok := overallExport[overall]; ok {
		fields["overall_res"] = v
	} else {
		fields["overall_res"] = "L"
	}

	// Block 12: approve/disapprove radio group. The template default is
	// DISAPPROVE.
	switch strings.ToLower(normalizeText(ws.ApprovalDecision)) {
	case "approve", "app", "approved":
		fields["xapp"] = "app"
	default:
		fields["xapp"] = "dis"
	}

	return fields
}

func joinNormalized(values []string) string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, normalizeText(v))
	}
	return strings.Join(out, "\n")
}

func exportRisk(level string) string {
	if v, ok := riskExport[level]; ok {
		return v
	}
	return "0"
}
