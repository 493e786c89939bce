package consultation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const sampleSummary = `DATOS PERSONALES:
Nombre completo: Maria Fernanda Lopez
DNI: 28.456.789
Edad: 54 años
Teléfono: 11-4567-8901
Domicilio: Av. Rivadavia 1234, CABA
Obra social: OSDE 210
Ocupación: docente

MOTIVO DE CONSULTA: Dolor torácico opresivo de 48 horas de evolución.

ANTECEDENTES PERSONALES:
Hipertensión arterial en tratamiento con enalapril 10 mg/día.

DIAGNÓSTICO PRESUNTIVO: Síndrome coronario agudo a descartar.
`

func TestExtractPatientData(t *testing.T) {
	data := ExtractPatientData(sampleSummary)

	if data.FullName != "Maria Fernanda Lopez" {
		t.Errorf("expected full name extracted, got %q", data.FullName)
	}
	if data.Document != "28.456.789" {
		t.Errorf("expected document extracted, got %q", data.Document)
	}
	if data.Age != "54 años" {
		t.Errorf("expected age extracted, got %q", data.Age)
	}
	if data.Phone != "11-4567-8901" {
		t.Errorf("expected phone extracted, got %q", data.Phone)
	}
	if data.Address != "Av. Rivadavia 1234, CABA" {
		t.Errorf("expected address extracted, got %q", data.Address)
	}
	if data.Insurance != "OSDE 210" {
		t.Errorf("expected insurance extracted, got %q", data.Insurance)
	}
	if data.Occupation != "docente" {
		t.Errorf("expected occupation extracted, got %q", data.Occupation)
	}
}

func TestExtractPatientDataStopsAtNextSection(t *testing.T) {
	data := ExtractPatientData(sampleSummary)

	// Lines under other sections carry colons too; none of them may leak
	// into the patient data.
	if data.Email != "" || data.Gender != "" || data.Origin != "" {
		t.Errorf("expected fields outside the personal data section to stay empty, got %+v", data)
	}
}

func TestExtractPatientDataWithoutSection(t *testing.T) {
	data := ExtractPatientData("MOTIVO DE CONSULTA: control anual.\nSin datos identificatorios.")

	if data != (PatientData{}) {
		t.Errorf("expected empty patient data, got %+v", data)
	}
}

func TestIsSectionHeader(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"DATOS PERSONALES:", true},
		{"MOTIVO DE CONSULTA: dolor abdominal", true},
		{"DIAGNÓSTICO PRESUNTIVO:", true},
		{"Nombre completo: Juan Perez", false},
		{"Edad: 30", false},
		{"| Parámetro | Resultado |", false},
	}

	for _, tt := range tests {
		if got := isSectionHeader(tt.line); got != tt.want {
			t.Errorf("isSectionHeader(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestHTTPStoreCreate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var rec Record
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			t.Errorf("failed to decode record: %v", err)
		}
		if rec.PatientName != "Jane Doe" {
			t.Errorf("expected patient name in payload, got %q", rec.PatientName)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": rec.ID})
	}))
	defer server.Close()

	store, err := NewHTTPStore(StoreConfig{Endpoint: server.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	rec := Record{
		ID:          "rec-1",
		PatientName: "Jane Doe",
		DateTime:    time.Now(),
		Summary:     "MOTIVO DE CONSULTA: control.",
	}

	id, err := store.Create(context.Background(), rec)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if id != "rec-1" {
		t.Errorf("expected id echoed back, got %q", id)
	}
}

func TestHTTPStoreCreateServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	store, _ := NewHTTPStore(StoreConfig{Endpoint: server.URL, Timeout: 5 * time.Second})

	_, err := store.Create(context.Background(), Record{ID: "rec-1"})
	if err == nil {
		t.Fatal("expected error on HTTP 500")
	}
}
