package handoff

// Word lists for alias generation. Aliases are verb-adjective-noun triples
// (e.g. "dancing-cosmic-falcon"). The space is large enough that collisions
// are negligible against a pruned registry, but Generate still checks.

var verbs = []string{
	"dancing", "drifting", "gliding", "jumping", "floating", "running",
	"singing", "spinning", "soaring", "diving", "climbing", "wandering",
	"racing", "sailing", "marching", "hopping", "roaming", "skating",
	"sliding", "swinging", "charging", "cruising", "dashing", "flying",
	"galloping", "leaping", "prowling", "sprinting", "strolling", "trekking",
	"twirling", "waltzing", "zooming", "bouncing", "circling", "exploring",
	"humming", "whistling", "wading", "basking",
}

var adjectives = []string{
	"amber", "azure", "brisk", "calm", "cosmic", "crimson", "curious",
	"daring", "eager", "electric", "emerald", "fearless", "gentle",
	"gleaming", "golden", "happy", "hidden", "jolly", "lively", "lunar",
	"mellow", "mighty", "misty", "neon", "nimble", "noble", "patient",
	"polished", "proud", "quiet", "radiant", "rapid", "rustic", "scarlet",
	"serene", "silent", "silver", "sleepy", "solar", "sturdy", "sunny",
	"swift", "tranquil", "velvet", "vivid", "wandering", "wild", "witty",
	"zesty", "bold", "clever", "frosty",
}

var nouns = []string{
	"badger", "bear", "beaver", "bison", "camel", "cat", "cheetah",
	"condor", "crane", "cricket", "dolphin", "dragon", "eagle", "falcon",
	"ferret", "finch", "fox", "gazelle", "gecko", "heron", "hound",
	"ibis", "jackal", "jaguar", "kestrel", "koala", "lemur", "leopard",
	"lion", "llama", "lynx", "magpie", "marmot", "marten", "mole",
	"moose", "narwhal", "newt", "ocelot", "orca", "osprey", "otter",
	"owl", "panda", "panther", "parrot", "pelican", "penguin", "phoenix",
	"puffin", "python", "quail", "rabbit", "raccoon", "raven", "robin",
	"salmon", "seal", "shark", "sparrow", "stork", "swan", "swift",
	"tiger", "toucan", "turtle", "viper", "walrus", "weasel", "wolf",
	"wombat", "wren", "yak", "zebra",
}
