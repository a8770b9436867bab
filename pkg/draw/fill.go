package draw

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// formData is the pdfcpu form-fill JSON envelope.
type formData struct {
	Forms []formPage `json:"forms"`
}

type formPage struct {
	TextField        []formField `json:"textfield,omitempty"`
	ComboBox         []formField `json:"combobox,omitempty"`
	RadioButtonGroup []formField `json:"radiobuttongroup,omitempty"`
}

type formField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// radioGroups are the button-group fields on the DD-2977 template; every
// other field in the mapping is text except the risk combos.
var radioGroups = map[string]bool{
	"overall_res": true,
	"xapp":        true,
}

func isRiskCombo(name string) bool {
	return strings.HasPrefix(name, "init_risk") || strings.HasPrefix(name, "res_risk")
}

// Fill fills the DD-2977 AcroForm template with the worksheet's field
// values and writes the result. All fields stay editable; nothing is
// flattened.
func Fill(templatePath, outputPath string, ws *Worksheet) error {
	if _, err := os.Stat(templatePath); err != nil {
		return fmt.Errorf("form template %s: %w", templatePath, err)
	}

	fields := BuildFieldValues(ws)
	data, err := marshalFormData(fields)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(outputPath), "draw-fill-*.json")
	if err != nil {
		return fmt.Errorf("stage form data: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("stage form data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("stage form data: %w", err)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.FillFormFile(templatePath, tmpName, outputPath, conf); err != nil {
		return fmt.Errorf("fill form: %w", err)
	}
	return nil
}

// marshalFormData converts the flat field map into pdfcpu's fill format,
// splitting fields by widget type. Output order is deterministic.
func marshalFormData(fields map[string]string) ([]byte, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var page formPage
	for _, name := range names {
		f := formField{Name: name, Value: fields[name]}
		switch {
		case radioGroups[name]:
			page.RadioButtonGroup = append(page.RadioButtonGroup, f)
		case isRiskCombo(name):
			page.ComboBox = append(page.ComboBox, f)
		default:
			page.TextField = append(page.TextField, f)
		}
	}

	data, err := json.MarshalIndent(formData{Forms: []formPage{page}}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode form data: %w", err)
	}
	return data, nil
}
