package engine

import (
	"fmt"
	"strings"

	"github.com/billowhq/billow/pkg/store"
)

// systemPrompt renders the per-identity instruction block. The product
// speaks French by default; the closing instruction pins the reply
// language to the stored preference.
func systemPrompt(ident *store.Identity) string {
	var b strings.Builder

	b.WriteString("Tu es Billow, l'assistant de gestion d'une petite entreprise artisanale. ")
	b.WriteString("Tu aides le gérant à suivre ses clients, devis et factures directement depuis sa messagerie. ")
	b.WriteString("Réponds de façon brève et concrète, comme un collègue de confiance.\n\n")

	b.WriteString("Entreprise:\n")
	writeField(&b, "Nom", ident.BusinessName)
	writeField(&b, "SIRET", ident.RegistrationID)
	writeField(&b, "Adresse", ident.BusinessAddress)

	if ident.ToolsEnabled {
		b.WriteString("\nTu peux créer et modifier des clients, devis et factures via les outils fournis. ")
		b.WriteString("Utilise un outil dès que la demande s'y prête, sans demander de confirmation superflue. ")
		b.WriteString("Tous les montants sont en centimes d'euro.\n")
	} else {
		b.WriteString("\nLe compte est en lecture seule: tu peux consulter les clients, devis et factures, ")
		b.WriteString("mais toute création ou modification est désactivée. ")
		b.WriteString("Si on te demande une action d'écriture, explique poliment qu'elle n'est pas disponible.\n")
	}

	b.WriteString("\nNe fabrique jamais de numéro de devis ou de facture: seuls les outils en génèrent. ")
	b.WriteString("Si une information indispensable manque, pose une seule question courte.\n")

	fmt.Fprintf(&b, "\nRéponds toujours en %s.\n", languageName(ident.Language))
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		value = "non renseigné"
	}
	fmt.Fprintf(b, "- %s: %s\n", label, value)
}

func languageName(lang string) string {
	switch lang {
	case "en":
		return "anglais"
	case "es":
		return "espagnol"
	case "de":
		return "allemand"
	case "it":
		return "italien"
	default:
		return "français"
	}
}
