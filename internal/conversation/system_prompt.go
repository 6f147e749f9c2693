package conversation

import (
	"fmt"
	"os"
	"strings"

	"github.com/wolfman30/leadflow-ai/internal/leads"
)

const defaultBasePrompt = `Eres el asistente virtual de %s. Atiendes a clientes que escriben por chat, respondes sus dudas con amabilidad y tu objetivo principal es capturar sus datos de contacto para que un asesor humano los llame.

TU PRIORIDAD:
1. Nombre completo
2. Teléfono
3. Servicio que necesita
4. Comuna donde se realizará el servicio
5. Urgencia

Pide los datos de forma natural, sin sonar a formulario. Nunca inventes precios, plazos ni servicios que no ofrecemos. Cuando tengas nombre y teléfono o servicio, confirma el registro y explica que un asesor lo contactará.`

const jsonContractPrompt = `FORMATO DE RESPUESTA (OBLIGATORIO):
Responde SIEMPRE y ÚNICAMENTE con un objeto JSON válido con esta estructura exacta:
{
  "reply": "tu mensaje para el cliente",
  "lead": {
    "name": null,
    "phone": null,
    "service": null,
    "commune": null,
    "urgency": null,
    "status": "cold"
  }
}
- "reply" es el texto que verá el cliente; nunca puede estar vacío.
- Usa null para los datos que aún no conoces y mantén los que ya conoces en cada respuesta.
- "status" SOLO puede ser "cold", "warm" o "hot".
- No agregues texto fuera del JSON, no uses markdown ni bloques de código.`

const classificationPrompt = `CLASIFICACIÓN DEL CLIENTE ("status"):
- "hot": tiene urgencia, un problema actual o pide una visita o cotización concreta.
- "warm": muestra interés o entregó algún dato de contacto.
- "cold": solo saluda o pregunta de forma general.`

const shortModePrompt = `MODO CONVERSACIÓN CORTA (%s):
- Máximo 2 líneas por mensaje, directo al punto.
- Pide UN solo dato por mensaje, en este orden: nombre, teléfono, servicio, comuna, urgencia.
- Máximo un emoji por mensaje.
- Al completar los datos responde algo como: "Ya registré tus datos ✅ Un asesor te contactará en breve."`

const instagramFirstMessagePrompt = `PRIMER MENSAJE EN INSTAGRAM:
Es el primer mensaje de este cliente. Responde con un saludo breve y pregunta directamente qué servicio busca; todavía no pidas el nombre. Ejemplo: "Hola 👋 Gracias por escribirnos. ¿Qué servicio estás buscando hoy?"`

// BusinessProfile describes the business the assistant represents.
type BusinessProfile struct {
	Name     string
	Services []string
	Communes []string
	// BasePrompt replaces the built-in role prompt when set.
	BasePrompt string
}

// LoadBasePrompt reads a prompt override from path. An empty path is a no-op.
func (p *BusinessProfile) LoadBasePrompt(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("conversation: read system prompt: %w", err)
	}
	p.BasePrompt = strings.TrimSpace(string(data))
	return nil
}

// PromptBuilder renders the channel-adapted system instruction.
type PromptBuilder struct {
	base string
}

// NewPromptBuilder renders the channel-independent part of the prompt once.
func NewPromptBuilder(profile BusinessProfile) *PromptBuilder {
	name := strings.TrimSpace(profile.Name)
	if name == "" {
		name = "nuestra empresa"
	}

	var sections []string
	if profile.BasePrompt != "" {
		sections = append(sections, profile.BasePrompt)
	} else {
		sections = append(sections, fmt.Sprintf(defaultBasePrompt, name))
	}
	if len(profile.Services) > 0 {
		sections = append(sections, "SERVICIOS QUE OFRECEMOS: "+strings.Join(profile.Services, ", ")+".")
	}
	if len(profile.Communes) > 0 {
		sections = append(sections, "COMUNAS DONDE ATENDEMOS: "+strings.Join(profile.Communes, ", ")+".")
	}
	sections = append(sections, classificationPrompt, jsonContractPrompt)

	return &PromptBuilder{base: strings.Join(sections, "\n\n")}
}

// Build returns the system blocks for a request. history is the
// conversation as persisted, used to detect a first message.
func (b *PromptBuilder) Build(channel leads.Channel, history []ChatMessage) []string {
	blocks := []string{b.base}
	switch channel {
	case leads.ChannelWhatsApp, leads.ChannelInstagram:
		blocks = append(blocks, fmt.Sprintf(shortModePrompt, strings.ToUpper(string(channel))))
		if channel == leads.ChannelInstagram && countUserTurns(history) == 1 {
			blocks = append(blocks, instagramFirstMessagePrompt)
		}
	}
	return blocks
}

func countUserTurns(history []ChatMessage) int {
	n := 0
	for _, msg := range history {
		if msg.Role == ChatRoleUser {
			n++
		}
	}
	return n
}

// userTranscript joins the user turns of history, one per line.
func userTranscript(history []ChatMessage) (string, int) {
	var (
		b     strings.Builder
		turns int
	)
	for _, msg := range history {
		if msg.Role != ChatRoleUser {
			continue
		}
		if turns > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(msg.Content)
		turns++
	}
	return b.String(), turns
}
