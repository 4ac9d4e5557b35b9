package component

import "fmt"

// buttonFactory renders a simple labeled button; it implements Updatable
// so component.update can change the label without a full remount.
type buttonFactory struct{ label string }

func (buttonFactory) Type() string { return "button.v1" }

func (f buttonFactory) Render(props map[string]interface{}) (string, error) {
	label, _ := props["label"].(string)
	if label == "" {
		label = "Button"
	}
	return fmt.Sprintf(`<button data-uicp-component="button.v1">%s</button>`, label), nil
}

func (f buttonFactory) Update(props map[string]interface{}) (string, error) {
	return f.Render(props)
}

// textFactory renders a plain text block.
type textFactory struct{}

func (textFactory) Type() string { return "text.v1" }
func (textFactory) Render(props map[string]interface{}) (string, error) {
	text, _ := props["text"].(string)
	return fmt.Sprintf(`<span data-uicp-component="text.v1">%s</span>`, text), nil
}

// RegisterBuiltins adds the baseline component factories every UICP
// runtime ships with.
func RegisterBuiltins(r *Registry) {
	r.Register(buttonFactory{})
	r.Register(textFactory{})
}
