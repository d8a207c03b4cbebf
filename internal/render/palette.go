package render

var (
	defaultPalette = []rune(" .,:-=+*#%@")
	dotsPalette    = []rune(" ·∙•●")
	blockPalette   = []rune(" ░▒▓█")
	asciiPalette   = []rune(" .oO0@")
)

// Palette returns characters used for brightness mapping, darkest first.
func Palette(name string) []rune {
	switch name {
	case "dots":
		return dotsPalette
	case "block":
		return blockPalette
	case "ascii":
		return asciiPalette
	default:
		return defaultPalette
	}
}

// PaletteNames returns all palette identifiers.
func PaletteNames() []string {
	return []string{"default", "dots", "block", "ascii"}
}
