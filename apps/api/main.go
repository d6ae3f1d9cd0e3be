package main

// TODO: rate limit `/v1/analyze` once the Gemini quota is shared between instances
func main() {
	startWithDig()
}
