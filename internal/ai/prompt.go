package ai

import (
	"fmt"
	"regexp"
	"strings"
)

// Intent is the coarse classification of an inbound customer message.
type Intent string

const (
	IntentGreeting  Intent = "greeting"
	IntentComplaint Intent = "complaint"
	IntentOrder     Intent = "order"
	IntentQuestion  Intent = "question"
	IntentInfo      Intent = "info"
)

// Ordered checks: the first match wins, unmatched messages count as questions.
var intentChecks = []struct {
	intent  Intent
	pattern *regexp.Regexp
}{
	{IntentGreeting, regexp.MustCompile(`(?i)\b(oi|ol[áa]|bom dia|boa tarde|boa noite|e a[íi]|eai|opa)\b`)},
	{IntentComplaint, regexp.MustCompile(`(?i)\b(reclama[çc][ãa]o|reclamar|problema|demor(a|ou)|errad[oa]|fri[oa]|ruim|p[ée]ssimo|horr[íi]vel|cancelar|atrasad[oa])\b`)},
	{IntentOrder, regexp.MustCompile(`(?i)\b(pedido|pedir|card[áa]pio|menu|entrega|delivery|quero|pre[çc]o|valor|quanto custa|promo[çc][ãa]o)\b`)},
	{IntentQuestion, regexp.MustCompile(`(?i)(\?|\b(como|quando|onde|qual|quais|quanto|por ?que)\b)`)},
	{IntentInfo, regexp.MustCompile(`(?i)\b(endere[çc]o|hor[áa]rio|funcionamento|aberto|fechado|telefone|pagamento|pix|cart[ãa]o)\b`)},
}

// DetectIntent classifies a message. Pure and deterministic.
func DetectIntent(message string) Intent {
	for _, check := range intentChecks {
		if check.pattern.MatchString(message) {
			return check.intent
		}
	}
	return IntentQuestion
}

// Contact carries the resolved sender identity used in prompts and logs.
type Contact struct {
	Name   string
	Number string
}

// SystemInstruction is the fixed persona block prepended to every AI call.
func SystemInstruction(restaurantName string) string {
	return strings.TrimSpace(fmt.Sprintf(`Você é o atendente virtual do restaurante %s.
Responda sempre em português brasileiro, com simpatia e em tom informal.
Seja breve: no máximo duas frases curtas, sem markdown e sem listas.
Nunca invente preços, prazos ou itens do cardápio; quando não souber, diga que um atendente irá confirmar.`, restaurantName))
}

// ContextualPrompt renders the contact-specific context block.
func ContextualPrompt(contact Contact) string {
	name := contact.Name
	if name == "" {
		name = "Cliente"
	}
	return fmt.Sprintf("Cliente: %s (telefone %s).", name, contact.Number)
}

var typedInstructions = map[Intent]string{
	IntentGreeting:  "O cliente está cumprimentando. Cumprimente de volta e pergunte como pode ajudar.",
	IntentComplaint: "O cliente está insatisfeito. Peça desculpas, demonstre empatia e diga que um atendente vai resolver em seguida.",
	IntentOrder:     "O cliente quer fazer ou consultar um pedido. Ajude com o que souber e oriente sobre o cardápio ou a entrega.",
	IntentQuestion:  "O cliente fez uma pergunta. Responda de forma direta com o que souber.",
	IntentInfo:      "O cliente quer informações do restaurante (horário, endereço, pagamento). Responda com objetividade.",
}

// TypedPrompt renders the first-turn instruction for a classified message.
func TypedPrompt(intent Intent, message string, contact Contact) string {
	instruction, ok := typedInstructions[intent]
	if !ok {
		instruction = typedInstructions[IntentQuestion]
	}
	return fmt.Sprintf("%s\n%s\n\nMensagem do cliente: %q", ContextualPrompt(contact), instruction, message)
}

// HistoryPrompt renders a transcript-style block for subsequent turns,
// followed by the new message.
func HistoryPrompt(turns []Turn, message string, contact Contact) string {
	var b strings.Builder
	b.WriteString(ContextualPrompt(contact))
	b.WriteString("\n\nConversa até agora:\n")
	for _, t := range turns {
		speaker := "Cliente"
		if t.Role == RoleAssistant {
			speaker = "Atendente"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, t.Text)
	}
	fmt.Fprintf(&b, "\nNova mensagem do cliente: %q", message)
	return b.String()
}
