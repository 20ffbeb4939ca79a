package roomname

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "purple", "bright", "gentle", "brave", "calm", "swift",
	"silent", "bouncy", "fuzzy", "plucky", "merry", "peppy", "lucky", "misty", "sunny", "windy",
}

var animals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"duckling", "fawn", "lamb", "raccoon", "beaver", "seahorse", "starfish", "dolphin", "whale", "narwhal",
	"penguin", "flamingo", "pelican", "sparrow", "robin", "toucan", "parrot", "canary", "dragon", "griffin",
}

var things = []string{
	"pancake", "waffle", "ramen", "curry", "taco", "dumpling", "noodle", "muffin", "biscuit", "toffee",
	"sunbeam", "stardust", "bubble", "sprout", "marble", "maple", "cocoa", "breeze", "meadow", "willow",
	"ember", "pixel", "lantern", "puddle", "pebble", "cottage", "rocket", "comet", "orbit", "canyon",
}
