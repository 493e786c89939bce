package summary

import "strings"

// terminologyPairs maps recurrent transcription and dictation mistakes to
// the correct clinical term. Pairs are applied in order; longer, more
// specific entries go first so shorter ones never clobber them.
var terminologyPairs = []string{
	"electro cardiograma", "electrocardiograma",
	"eco cardiograma", "ecocardiograma",
	"eco grafia", "ecografia",
	"hemoglobina glucosilada", "hemoglobina glicosilada",
	"metmorfina", "metformina",
	"metforminina", "metformina",
	"enalaprilo", "enalapril",
	"losartan potasico", "losartan",
	"atorvastina", "atorvastatina",
	"levotiroxima", "levotiroxina",
	"omeprazol magnesico", "omeprazol",
	"ibuprofen ", "ibuprofeno ",
	"glisemia", "glucemia",
	"trigliceridos altos", "hipertrigliceridemia",
	"presion alta", "hipertension arterial",
	"azucar en sangre", "glucemia",
}

var terminologyReplacer = strings.NewReplacer(terminologyPairs...)

// CorrectTerminology applies the deterministic correction table to a
// summary. Idempotent: correcting an already-correct text is a no-op.
func CorrectTerminology(text string) string {
	return terminologyReplacer.Replace(text)
}
