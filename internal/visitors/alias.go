package visitors

import "hash/fnv"

var aliasColors = []string{
	"Amber", "Azure", "Bronze", "Cobalt", "Copper", "Coral", "Crimson", "Cyan", "Ebony", "Emerald",
	"Golden", "Indigo", "Ivory", "Jade", "Lavender", "Lemon", "Lilac", "Magenta", "Maroon", "Mint",
	"Ochre", "Olive", "Onyx", "Pearl", "Plum", "Rose", "Ruby", "Saffron", "Scarlet", "Silver",
	"Slate", "Teal", "Topaz", "Umber", "Violet",
}

var aliasPlaces = []string{
	"Atoll", "Bay", "Canyon", "Cape", "Cove", "Delta", "Dune", "Fjord", "Glacier", "Grove",
	"Harbor", "Island", "Lagoon", "Meadow", "Mesa", "Moor", "Oasis", "Orchard", "Peak", "Prairie",
	"Reef", "Ridge", "River", "Savanna", "Summit", "Tundra", "Valley", "Volcano", "Willow", "Woods",
}

// Alias maps a visitor key onto a stable, human-friendly label for the live
// feed. The label carries no more information than the key itself.
func Alias(visitorKey string) string {
	if visitorKey == "" {
		return ""
	}
	h := fnv.New32a()
	h.Write([]byte(visitorKey))
	n := int(h.Sum32())

	return aliasColors[n%len(aliasColors)] + " " + aliasPlaces[(n/len(aliasColors))%len(aliasPlaces)]
}
