package alias

var adjectives = []string{
	"amber", "ancient", "autumn", "bold", "brave", "bright", "calm", "clever",
	"cosmic", "crimson", "crystal", "dawn", "silent", "electric", "emerald", "fading",
	"fierce", "frosty", "gentle", "golden", "hidden", "hollow", "icy", "jade",
	"lively", "lucky", "lunar", "misty", "mellow", "noble", "polar", "quiet",
	"rapid", "rusty", "scarlet", "shadow", "silver", "solar", "stormy", "swift",
	"velvet", "wild", "wandering", "winter", "zen",
}

var nouns = []string{
	"arrow", "badger", "beacon", "breeze", "canyon", "cedar", "comet", "coral",
	"crane", "delta", "ember", "falcon", "fern", "fjord", "fox", "glacier",
	"harbor", "hawk", "heron", "island", "lantern", "lynx", "maple", "meadow",
	"nebula", "oak", "orbit", "otter", "panda", "pebble", "pine", "prism",
	"raven", "reef", "river", "sparrow", "spruce", "summit", "thunder", "tiger",
	"valley", "willow", "wolf", "zephyr",
}
