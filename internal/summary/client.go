package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// systemPrompt instructs the model to produce the structured clinical
// summary the rest of the pipeline parses. Section titles are contractual:
// patient data derivation keys off them.
const systemPrompt = `Eres un asistente medico especializado en documentacion clinica. A partir de la transcripcion de una consulta medica, extrae y resume la informacion clinica relevante con terminologia medica tecnica y profesional.

Si se mencionan datos personales del paciente (nombre completo, DNI, telefono, correo, edad, domicilio, genero, escolaridad, ocupacion, obra social, procedencia), incluilos en su totalidad.

Estructura del resumen (usa estos titulos en este orden exacto):

DATOS PERSONALES: todos los datos identificatorios mencionados, uno por linea con su etiqueta.
MOTIVO DE CONSULTA: razon principal de la consulta en terminos tecnicos.
ANTECEDENTES PERSONALES: enfermedades cronicas, internaciones, cirugias, alergias, medicacion habitual.
ANTECEDENTES FAMILIARES: enfermedades relevantes en familiares de primer o segundo grado.
HABITOS: tabaco (paq/ano), alcohol (g/dia), otras sustancias.
EXAMENES COMPLEMENTARIOS PREVIOS: laboratorio en tabla con columnas Parametro, Resultado, Valor de referencia; otros estudios si se mencionan.
DIAGNOSTICO PRESUNTIVO: hipotesis diagnostica con terminos medicos adecuados.
INDICACIONES: plan terapeutico con medicacion, dosis y frecuencia.
EXAMENES SOLICITADOS: estudios complementarios solicitados durante la consulta.

Se conciso pero completo. No omitas datos clinicamente significativos.`

// Config contains summarization client configuration
type Config struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// Client talks to an OpenAI-compatible chat-completions endpoint
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new summarization client
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Summarize submits the transcript and returns the structured clinical
// summary with the terminology correction pass already applied. Temperature
// is pinned to zero so repeated runs over the same transcript agree.
func (c *Client) Summarize(ctx context.Context, transcript string) (string, error) {
	if transcript == "" {
		return "", fmt.Errorf("transcript cannot be empty")
	}

	payload := chatRequest{
		Model:       c.config.Model,
		Temperature: 0,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: transcript},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("summarization request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read summarization response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("summarization returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse summarization response: %w", err)
	}

	if parsed.Error != nil {
		return "", fmt.Errorf("summarization service error: %s", parsed.Error.Message)
	}

	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("summarization returned no content")
	}

	summary := CorrectTerminology(parsed.Choices[0].Message.Content)

	c.logger.Info("Summary generated",
		slog.Int("transcript_chars", len(transcript)),
		slog.Int("summary_chars", len(summary)),
	)

	return summary, nil
}
