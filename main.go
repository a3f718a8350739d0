// Command pb-img injects a prompt into a ComfyUI workflow, generates images
// on Replicate and critiques each image with a vision model.
package main

import "github.com/ouiliame/pb-img/internal/cli"

func main() {
	cli.Execute()
}
