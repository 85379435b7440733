package i18n

import "strings"

// Every user-visible string the pipeline can emit on its own. Business
// tool output is the model's job; these cover the failure and
// acknowledgment paths where no model reply exists.
type Key string

const (
	KeyTranscriptionFailed Key = "transcription_failed"
	KeyMediaNotSupported   Key = "media_not_supported"
	KeyTooComplex          Key = "too_complex"
	KeyNotConfigured       Key = "not_configured"
	KeyRateLimited         Key = "rate_limited"
	KeyGenericError        Key = "generic_error"
)

const DefaultLanguage = "fr"

var replies = map[string]map[Key]string{
	"fr": {
		KeyTranscriptionFailed: "Désolé, je n'ai pas réussi à comprendre votre message vocal. Pouvez-vous réessayer ou l'écrire ?",
		KeyMediaNotSupported:   "Je ne peux traiter que les messages texte et vocaux pour le moment. Pouvez-vous me décrire votre demande ?",
		KeyTooComplex:          "Votre demande est trop complexe pour être traitée d'un coup. Pouvez-vous la simplifier ?",
		KeyNotConfigured:       "L'assistant n'est pas encore entièrement configuré. Veuillez réessayer plus tard.",
		KeyRateLimited:         "Je reçois beaucoup de demandes en ce moment. Merci de réessayer dans quelques instants.",
		KeyGenericError:        "Désolé, une erreur est survenue. Merci de réessayer.",
	},
	"en": {
		KeyTranscriptionFailed: "Sorry, I couldn't understand your voice message. Could you try again or type it?",
		KeyMediaNotSupported:   "I can only handle text and voice messages for now. Could you describe your request?",
		KeyTooComplex:          "This request is too complex to handle in one go. Could you simplify it?",
		KeyNotConfigured:       "The assistant is not fully configured yet. Please try again later.",
		KeyRateLimited:         "I'm receiving a lot of requests right now. Please try again in a moment.",
		KeyGenericError:        "Sorry, something went wrong. Please try again.",
	},
	"es": {
		KeyTranscriptionFailed: "Lo siento, no pude entender tu mensaje de voz. ¿Puedes intentarlo de nuevo o escribirlo?",
		KeyMediaNotSupported:   "Por ahora solo puedo procesar mensajes de texto y de voz. ¿Puedes describir tu solicitud?",
		KeyTooComplex:          "Tu solicitud es demasiado compleja. ¿Puedes simplificarla?",
		KeyNotConfigured:       "El asistente aún no está completamente configurado. Inténtalo más tarde.",
		KeyRateLimited:         "Estoy recibiendo muchas solicitudes ahora mismo. Inténtalo de nuevo en un momento.",
		KeyGenericError:        "Lo siento, algo salió mal. Inténtalo de nuevo.",
	},
	"de": {
		KeyTranscriptionFailed: "Entschuldigung, ich konnte Ihre Sprachnachricht nicht verstehen. Können Sie es erneut versuchen oder sie eintippen?",
		KeyMediaNotSupported:   "Ich kann derzeit nur Text- und Sprachnachrichten verarbeiten. Können Sie Ihr Anliegen beschreiben?",
		KeyTooComplex:          "Diese Anfrage ist zu komplex. Können Sie sie vereinfachen?",
		KeyNotConfigured:       "Der Assistent ist noch nicht vollständig eingerichtet. Bitte versuchen Sie es später erneut.",
		KeyRateLimited:         "Ich erhalte gerade sehr viele Anfragen. Bitte versuchen Sie es gleich noch einmal.",
		KeyGenericError:        "Entschuldigung, etwas ist schiefgelaufen. Bitte versuchen Sie es erneut.",
	},
	"it": {
		KeyTranscriptionFailed: "Mi dispiace, non sono riuscito a capire il tuo messaggio vocale. Puoi riprovare o scriverlo?",
		KeyMediaNotSupported:   "Per ora posso gestire solo messaggi di testo e vocali. Puoi descrivere la tua richiesta?",
		KeyTooComplex:          "La richiesta è troppo complessa. Puoi semplificarla?",
		KeyNotConfigured:       "L'assistente non è ancora completamente configurato. Riprova più tardi.",
		KeyRateLimited:         "Sto ricevendo molte richieste in questo momento. Riprova tra poco.",
		KeyGenericError:        "Mi dispiace, qualcosa è andato storto. Riprova.",
	},
}

// Supported reports whether lang has a reply table, i.e. whether it is a
// valid stored language preference.
func Supported(lang string) bool {
	_, ok := replies[normalize(lang)]
	return ok
}

// Reply returns the localized string for key, falling back to the
// default language when lang is unknown.
func Reply(lang string, key Key) string {
	table, ok := replies[normalize(lang)]
	if !ok {
		table = replies[DefaultLanguage]
	}
	return table[key]
}

func normalize(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}
