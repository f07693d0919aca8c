package generation

import "CalmFM/model"

// DemoDuration is the duration in seconds reported for demo assets.
const DemoDuration = 120.0

var genreDescriptors = map[model.Genre]string{
	model.GenreJazz:      "smooth jazz, saxophone, piano, relaxing jazz melody",
	model.GenreAmbient:   "ambient, atmospheric, ethereal, meditation music",
	model.GenreLofi:      "lo-fi hip hop, chill beats, relaxing study music",
	model.GenreClassical: "classical piano, calming orchestra, serene strings",
}

var demoAudioURLs = map[model.Genre]string{
	model.GenreJazz:      "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-1.mp3",
	model.GenreAmbient:   "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-2.mp3",
	model.GenreLofi:      "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-3.mp3",
	model.GenreClassical: "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-4.mp3",
}

// Descriptor returns the style phrase for genre. Genres outside the table
// get the ambient phrase.
func Descriptor(genre model.Genre) string {
	if d, ok := genreDescriptors[genre]; ok {
		return d
	}
	return genreDescriptors[model.GenreAmbient]
}

// EnrichPrompt appends the genre descriptor to the user's prompt.
func EnrichPrompt(prompt string, genre model.Genre) string {
	return prompt + ", " + Descriptor(genre)
}

// DemoAudioURL returns the sample asset for genre, ambient for unknown genres.
func DemoAudioURL(genre model.Genre) string {
	if u, ok := demoAudioURLs[genre]; ok {
		return u
	}
	return demoAudioURLs[model.GenreAmbient]
}
