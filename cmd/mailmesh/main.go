// Command mailmesh runs parallel branch dispatches from the command line and
// manages the mailmesh configuration file.
package main

func main() {
	Execute()
}
