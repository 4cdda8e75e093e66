package main

import "github.com/chrisdamba/foodcart/cmd"

func main() {
	cmd.Execute()
}
