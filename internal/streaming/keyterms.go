package streaming

// DefaultKeyterms biases the streaming model towards the clinical vocabulary
// that dominates consultation audio. The wire protocol caps the hint list at
// 100 terms of 50 characters each.
var DefaultKeyterms = []string{
	// Signos vitales y mediciones
	"presion arterial", "frecuencia cardiaca", "frecuencia respiratoria",
	"saturacion de oxigeno", "temperatura corporal", "indice de masa corporal",
	"tension arterial", "presion sistolica", "presion diastolica",
	// Estudios y analisis
	"hemograma completo", "glucemia", "hemoglobina glicosilada",
	"colesterol total", "trigliceridos", "creatinina", "urea",
	"acido urico", "transaminasas", "bilirrubina",
	"electrocardiograma", "ecocardiograma", "radiografia",
	"tomografia", "resonancia magnetica", "ecografia",
	"analisis de orina", "hepatograma", "coagulograma",
	"eritrosedimentacion", "proteina C reactiva",
	// Patologias comunes
	"diabetes mellitus", "hipertension arterial", "hipotension",
	"insuficiencia cardiaca", "fibrilacion auricular",
	"hipotiroidismo", "hipertiroidismo",
	"dislipidemia", "hipercolesterolemia",
	"gastritis", "reflujo gastroesofagico",
	"infeccion urinaria", "neumonia", "bronquitis",
	"anemia ferropenica", "osteoporosis", "artrosis",
	"lumbalgia", "cervicalgia", "cefalea tensional",
	"sindrome metabolico", "enfermedad renal cronica",
	// Medicamentos frecuentes
	"metformina", "enalapril", "losartan", "atorvastatina",
	"levotiroxina", "omeprazol", "ibuprofeno", "paracetamol",
	"amoxicilina", "azitromicina", "ciprofloxacina",
	"amlodipina", "hidroclorotiazida", "aspirina",
	"clonazepam", "alprazolam", "sertralina", "fluoxetina",
	"insulina", "metoprolol", "furosemida", "espironolactona",
	// Examen fisico
	"auscultacion", "palpacion", "percusion",
	"murmullo vesicular", "ruidos cardiacos",
	"abdomen blando", "abdomen depresible",
	"edema", "cianosis", "disnea", "taquicardia", "bradicardia",
	// Terminologia clinica
	"diagnostico diferencial", "antecedentes patologicos",
	"antecedentes familiares", "motivo de consulta",
	"enfermedad actual", "examen fisico",
	"plan terapeutico", "interconsulta",
}

const (
	maxKeyterms      = 100
	maxKeytermLength = 50
)

// SanitizeKeyterms drops terms that violate the wire protocol's bounds and
// truncates the list to the maximum hint count.
func SanitizeKeyterms(terms []string) []string {
	sanitized := make([]string, 0, len(terms))
	for _, term := range terms {
		if term == "" || len(term) > maxKeytermLength {
			continue
		}
		sanitized = append(sanitized, term)
		if len(sanitized) == maxKeyterms {
			break
		}
	}
	return sanitized
}
