// Command chartctl runs the SQL-to-chart pipeline locally and manages the
// mock databases it reads from.
package main

func main() {
	Execute()
}
