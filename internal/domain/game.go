package domain

// Valheim identifiers.
const (
	ValheimAppID       = "892970"
	ValheimSteamName   = "Valheim"
	ValheimExecutable  = "valheim.x86_64"
	FrameworkPackageID = "denikson-BepInExPack_Valheim"
	FrameworkDirName   = "BepInEx"
)

// LinkMethod determines how mods are deployed into the plugins directory
type LinkMethod int

const (
	LinkSymlink  LinkMethod = iota // Default: symlink (space efficient)
	LinkHardlink                   // Hardlink (transparent to the game)
	LinkCopy                       // Copy (maximum compatibility)
)

func (m LinkMethod) String() string {
	switch m {
	case LinkSymlink:
		return "symlink"
	case LinkHardlink:
		return "hardlink"
	case LinkCopy:
		return "copy"
	default:
		return "unknown"
	}
}

// ParseLinkMethod converts a string to LinkMethod
func ParseLinkMethod(s string) LinkMethod {
	switch s {
	case "hardlink":
		return LinkHardlink
	case "copy":
		return LinkCopy
	default:
		return LinkSymlink
	}
}

// ValidLinkMethod reports whether s names a known link method. Empty is
// accepted and means the default.
func ValidLinkMethod(s string) bool {
	switch s {
	case "", "symlink", "hardlink", "copy":
		return true
	}
	return false
}
