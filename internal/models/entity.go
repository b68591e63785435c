package models

// EntityKind names a story resource variant that can satisfy a template keyword.
type EntityKind string

const (
	KindRPGCharacter      EntityKind = "rpg_character"
	KindOrganization      EntityKind = "organization"
	KindSupernaturalPower EntityKind = "supernatural_power"
	KindWeapon            EntityKind = "weapon"
	KindDungeon           EntityKind = "dungeon"
	KindChapter           EntityKind = "chapter"
	KindVolume            EntityKind = "volume"
	KindProject           EntityKind = "project"
	KindWorldview         EntityKind = "worldview"
)

// ResolutionOrder is the fixed precedence used when a keyword could match
// several variants. Earlier entries always win.
var ResolutionOrder = []EntityKind{
	KindRPGCharacter,
	KindOrganization,
	KindSupernaturalPower,
	KindWeapon,
	KindDungeon,
	KindChapter,
	KindVolume,
	KindProject,
}

// Entity is implemented by every story resource that can be interpolated
// into a prompt.
type Entity interface {
	Kind() EntityKind
	// DisplayKey is the name or title a keyword is matched against.
	DisplayKey() string
	// Body is the text substituted for the keyword: content, then
	// description, then the display key.
	Body() string
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
