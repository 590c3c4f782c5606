package enhance

// ForTool maps a configured enhancement tool name to the matching EnhanceFunc
// signature. Unknown names fall back to the native kernel.
func ForTool(tool string) func([]byte) ([]byte, error) {
	switch tool {
	case "imagick":
		return SharpenWand
	default:
		return Sharpen
	}
}
