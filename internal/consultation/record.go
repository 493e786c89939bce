package consultation

import (
	"strings"
	"time"
)

// PatientData holds the identifying fields derived from the summary's
// personal-data section. All fields are free text as dictated.
type PatientData struct {
	FullName   string `json:"full_name,omitempty"`
	Document   string `json:"document,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	Age        string `json:"age,omitempty"`
	Address    string `json:"address,omitempty"`
	Gender     string `json:"gender,omitempty"`
	Education  string `json:"education,omitempty"`
	Occupation string `json:"occupation,omitempty"`
	Insurance  string `json:"insurance,omitempty"`
	Origin     string `json:"origin,omitempty"`
}

// Record is one persisted consultation
type Record struct {
	ID            string      `json:"id"`
	Owner         string      `json:"owner"`
	PatientName   string      `json:"patient_name"`
	DateTime      time.Time   `json:"date_time"`
	Transcription string      `json:"transcription"`
	Summary       string      `json:"summary"`
	PatientData   PatientData `json:"patient_data"`
	AudioURL      string      `json:"audio_url,omitempty"`
}

// accentFolder maps Spanish accented characters for header and label
// matching. Values are preserved untouched.
var accentFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
	"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u", "Ü", "u", "Ñ", "n",
)

func foldLabel(s string) string {
	return accentFolder.Replace(strings.ToLower(strings.TrimSpace(s)))
}

// ExtractPatientData parses the personal-data section of a structured
// summary into labeled fields. Labels are matched accent- and
// case-insensitively; unknown labels are ignored.
func ExtractPatientData(summary string) PatientData {
	var data PatientData

	inSection := false
	for _, line := range strings.Split(summary, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if isSectionHeader(trimmed) {
			inSection = strings.Contains(foldLabel(trimmed), "datos personales")
			continue
		}

		if !inSection {
			continue
		}

		label, value, found := strings.Cut(trimmed, ":")
		if !found {
			continue
		}
		applyField(&data, foldLabel(label), value)
	}

	return data
}

// isSectionHeader reports whether a line looks like a summary section
// title: an uppercase label, optionally followed by a colon.
func isSectionHeader(line string) bool {
	label, _, _ := strings.Cut(line, ":")
	label = strings.TrimLeft(strings.TrimSpace(label), "-*# ")
	if len(label) < 4 {
		return false
	}

	letters := 0
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= 'A' && r <= 'Z':
			letters++
		}
	}
	return letters >= 4
}

func applyField(data *PatientData, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}

	switch {
	case strings.Contains(label, "nombre"):
		if data.FullName == "" {
			data.FullName = value
		}
	case strings.Contains(label, "dni") || strings.Contains(label, "documento"):
		data.Document = value
	case strings.Contains(label, "telefono"):
		data.Phone = value
	case strings.Contains(label, "correo") || strings.Contains(label, "email"):
		data.Email = value
	case strings.Contains(label, "edad"):
		data.Age = value
	case strings.Contains(label, "domicilio") || strings.Contains(label, "direccion"):
		data.Address = value
	case strings.Contains(label, "genero") || strings.Contains(label, "sexo"):
		data.Gender = value
	case strings.Contains(label, "escolaridad") || strings.Contains(label, "educativo"):
		data.Education = value
	case strings.Contains(label, "ocupacion"):
		data.Occupation = value
	case strings.Contains(label, "obra social"):
		data.Insurance = value
	case strings.Contains(label, "procedencia"):
		data.Origin = value
	}
}
