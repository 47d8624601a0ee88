package main

import "taxonav/internal/app"

func main() {
	app.Main()
}
