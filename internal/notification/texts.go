package notification

import (
	"fmt"

	"golang.org/x/text/language"
)

type textKey string

const (
	textNewJob                textKey = "new_job"
	textNewImmediateJob       textKey = "new_immediate_job"
	textJobAccepted           textKey = "job_accepted"
	textCancelledByCustomer   textKey = "cancelled_by_customer"
	textCancelledByTranslator textKey = "cancelled_by_translator"
	textJobExpired            textKey = "job_expired"
	textSessionReminder       textKey = "session_reminder"
	textSMSPhone              textKey = "sms_phone"
	textSMSPhysical           textKey = "sms_physical"
	textPhysicalKind          textKey = "physical_kind"
	textPhoneKind             textKey = "phone_kind"
)

var catalog = map[language.Tag]map[textKey]string{
	language.English: {
		textNewJob:                "New booking for %s interpreter, %d min, %s",
		textNewImmediateJob:       "New emergency booking for %s interpreter, %d min",
		textJobAccepted:           "Your booking for %s, %d min, %s has been accepted by an interpreter. Open the app to see the interpreter's details.",
		textCancelledByCustomer:   "The customer has cancelled the booking for %s interpreter, %d min, %s. Check your earlier bookings for details.",
		textCancelledByTranslator: "Your %s interpreter, %d min, %s, has cancelled. We are now looking for a new interpreter. Thank you.",
		textJobExpired:            "Unfortunately no interpreter accepted your booking (%s, %d min, %s). Please try booking again.",
		textSessionReminder:       "You have now been given the %s for %s at %s, %d min. Please make sure you are prepared for that time. Thank you!",
		textSMSPhone:              "New phone interpreting job on %s at %s, %s. Booking #%d. Reply in the app to accept.",
		textSMSPhysical:           "New on-site interpreting job in %s on %s at %s, %s. Booking #%d. Reply in the app to accept.",
		textPhysicalKind:          "on-site interpreting",
		textPhoneKind:             "phone interpreting",
	},
	language.Swedish: {
		textNewJob:                "Ny bokning för %stolk %dmin %s",
		textNewImmediateJob:       "Ny akutbokning för %stolk %dmin",
		textJobAccepted:           "Din bokning för %s translators, %dmin, %s har accepterats av en tolk. Vänligen öppna appen för att se detaljer om tolken.",
		textCancelledByCustomer:   "Kunden har avbokat bokningen för %stolk, %dmin, %s. Var god och kolla dina tidigare bokningar för detaljer.",
		textCancelledByTranslator: "Er %stolk, %dmin %s, har avbokat tolkningen. Vi letar nu efter en ny tolk som kan ersätta denne. Tack.",
		textJobExpired:            "Tyvärr har ingen tolk accepterat er bokning: (%s, %dmin, %s). Vänligen pröva boka om tiden.",
		textSessionReminder:       "Du har nu fått %s för %s kl %s, %d min. Vänligen säkerställ att du är förberedd för den tiden. Tack!",
		textSMSPhone:              "Nytt telefontolkuppdrag %s kl %s, %s. Bokning #%d. Svara i appen för att acceptera.",
		textSMSPhysical:           "Nytt platstolkuppdrag i %s %s kl %s, %s. Bokning #%d. Svara i appen för att acceptera.",
		textPhysicalKind:          "platstolkningen",
		textPhoneKind:             "telefontolkningen",
	},
}

// Texts renders notification bodies in one locale.
type Texts struct {
	tag language.Tag
}

// NewTexts picks the closest supported locale to the requested one. An
// unparsable locale is an error; a supported-but-unknown one falls back to
// English.
func NewTexts(locale string) (*Texts, error) {
	requested, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("invalid locale %q: %w", locale, err)
	}

	supported := []language.Tag{language.English, language.Swedish}
	_, idx, confidence := language.NewMatcher(supported).Match(requested)
	if confidence == language.No {
		idx = 0
	}
	return &Texts{tag: supported[idx]}, nil
}

// Locale returns the locale texts are rendered in.
func (t *Texts) Locale() language.Tag {
	return t.tag
}

func (t *Texts) render(key textKey, args ...any) string {
	format, ok := catalog[t.tag][key]
	if !ok {
		format = catalog[language.English][key]
	}
	return fmt.Sprintf(format, args...)
}
