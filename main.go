package main

import "github.com/andresmejia3/visualtrans/cmd"

func main() {
	cmd.Execute()
}
