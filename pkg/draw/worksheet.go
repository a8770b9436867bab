// Package draw generates an editable DD Form 2977 (Deliberate Risk
// Assessment Worksheet) by filling the form template's AcroForm fields from
// structured worksheet data.
package draw

import (
	"encoding/json"
	"fmt"
)

// maxRows is the number of subtask rows the form supports (sub_1..sub_19).
const maxRows = 19

// Worksheet is the structured input for one risk assessment worksheet.
type Worksheet struct {
	MissionTaskAndDescription string     `json:"mission_task_and_description"`
	Date                      string     `json:"date"`
	PreparedBy                PreparedBy `json:"prepared_by"`
	OverallSupervisionPlan    string     `json:"overall_supervision_plan"`
	Subtasks                  []Subtask  `json:"subtasks"`
	OverallResidualRiskLevel  string     `json:"overall_residual_risk_level"`
	ApprovalDecision          string     `json:"approval_decision"`
}

// PreparedBy identifies the preparer (form block 2).
type PreparedBy struct {
	Name      string `json:"name_last_first_middle_initial"`
	RankGrade string `json:"rank_grade"`
	DutyTitle string `json:"duty_title_position"`
	Unit      string `json:"unit"`
	WorkEmail string `json:"work_email"`
	Telephone string `json:"telephone"`
	UICCIN    string `json:"uic_cin"`
	Plan      string `json:"training_support_or_lesson_plan_or_opord"`
}

// Subtask is one row of the assessment table (form blocks 4 through 9).
type Subtask struct {
	Subtask           *NamedItem     `json:"subtask"`
	Hazard            string         `json:"hazard"`
	Control           *ValueList     `json:"control"`
	HowToImplement    HowToImplement `json:"how_to_implement"`
	InitialRiskLevel  string         `json:"initial_risk_level"`
	ResidualRiskLevel string         `json:"residual_risk_level"`
}

// NamedItem carries a single named entry.
type NamedItem struct {
	Name string `json:"name"`
}

// ValueList carries a list of free-text values.
type ValueList struct {
	Values []string `json:"values"`
}

// HowToImplement holds the implementation and responsibility lists (block 8).
type HowToImplement struct {
	How *ValueList `json:"how"`
	Who *ValueList `json:"who"`
}

// ParseWorksheet decodes worksheet JSON.
func ParseWorksheet(data []byte) (*Worksheet, error) {
	var ws Worksheet
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("parse worksheet: %w", err)
	}
	return &ws, nil
}
