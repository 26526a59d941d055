package domain

// Role is the account role resolved by the directory.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleTranslator Role = "translator"
	RoleAdmin      Role = "admin"
)

// TranslatorType is the translator pool a user belongs to.
type TranslatorType string

const (
	TranslatorProfessional TranslatorType = "professional"
	TranslatorRWS          TranslatorType = "rwstranslator"
	TranslatorVolunteer    TranslatorType = "volunteer"
)

// Certification levels a translator can hold.
const (
	LevelLayman                 = "Layman"
	LevelReadTranslationCourses = "Read Translation courses"
	LevelCertified              = "Certified"
	LevelCertifiedLaw           = "Certified with specialisation in law"
	LevelCertifiedHealth        = "Certified with specialisation in health care"
)

// Meta keys understood by Directory.GetUserMeta.
const (
	MetaNotGetNotification = "not_get_notification"
	MetaNotGetEmergency    = "not_get_emergency"
	MetaNotGetNighttime    = "not_get_nighttime"
	MetaTranslatorType     = "translator_type"
	MetaTranslatorLevel    = "translator_level"
	MetaGender             = "gender"
	MetaTown               = "town"
	MetaConsumerType       = "consumer_type"
	MetaCustomerType       = "customer_type"
)

// User is the directory view of an account.
type User struct {
	ID             int64          `db:"id" json:"id"`
	Role           Role           `db:"user_type" json:"role"`
	Name           string         `db:"name" json:"name"`
	Email          string         `db:"email" json:"email"`
	Mobile         string         `db:"mobile" json:"mobile,omitempty"`
	Active         bool           `db:"active" json:"active"`
	TranslatorType TranslatorType `db:"translator_type" json:"translator_type,omitempty"`
	Level          string         `db:"translator_level" json:"translator_level,omitempty"`
	Gender         Gender         `db:"gender" json:"gender,omitempty"`
	Town           string         `db:"town" json:"town,omitempty"`
	ConsumerType   string         `db:"consumer_type" json:"consumer_type,omitempty"`
	CustomerType   string         `db:"customer_type" json:"customer_type,omitempty"`
	LanguageIDs    []int64        `db:"-" json:"language_ids,omitempty"`
}

// IsTranslator reports whether the user has the translator role.
func (u *User) IsTranslator() bool {
	return u.Role == RoleTranslator
}

// IsCustomer reports whether the user has the customer role.
func (u *User) IsCustomer() bool {
	return u.Role == RoleCustomer
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// SpeaksLanguage reports whether the user lists the language.
func (u *User) SpeaksLanguage(id int64) bool {
	for _, l := range u.LanguageIDs {
		if l == id {
			return true
		}
	}
	return false
}

// TranslatorQuery narrows the translator pool at the directory boundary.
type TranslatorQuery struct {
	TranslatorType TranslatorType
	Levels         []string
	LanguageID     int64
	Gender         Gender
	ExcludeIDs     []int64
}
