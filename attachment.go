package filament

import (
	vk "github.com/vulkan-go/vulkan"
)

// Texture owns an image, its default view and the layout bookkeeping for
// barrier insertion. Swapchain-backed textures swap their image every frame
// via Replace.
type Texture struct {
	image  vk.Image
	view   vk.ImageView
	format vk.Format
	layout vk.ImageLayout
	levels uint8
	layers uint16
}

// NewTexture wraps an existing image and view.
func NewTexture(image vk.Image, view vk.ImageView, format vk.Format, levels uint8, layers uint16) *Texture {
	return &Texture{
		image:  image,
		view:   view,
		format: format,
		layout: vk.ImageLayoutUndefined,
		levels: levels,
		layers: layers,
	}
}

// Replace swaps the backing image and view, used when the presentation
// engine rotates swapchain images. Layout resets to undefined.
func (t *Texture) Replace(image vk.Image, view vk.ImageView) {
	t.image = image
	t.view = view
	t.layout = vk.ImageLayoutUndefined
}

// SetLayout records the layout the image was last transitioned to.
func (t *Texture) SetLayout(layout vk.ImageLayout) { t.layout = layout }

func (t *Texture) Image() vk.Image        { return t.image }
func (t *Texture) View() vk.ImageView     { return t.view }
func (t *Texture) Format() vk.Format      { return t.format }
func (t *Texture) Layout() vk.ImageLayout { return t.layout }
func (t *Texture) Levels() uint8          { return t.levels }
func (t *Texture) Layers() uint16         { return t.layers }

// Attachment is a lightweight reference to one mip level and array layer of
// a texture. It stores no copies of the texture's properties; every
// accessor re-derives from the current texture state, so an attachment held
// across a swapchain image swap stays valid.
type Attachment struct {
	Texture *Texture
	Level   uint8
	Layer   uint16
}

// Valid reports whether the attachment references a texture.
func (a Attachment) Valid() bool { return a.Texture != nil }

func (a Attachment) Image() vk.Image        { return a.Texture.Image() }
func (a Attachment) View() vk.ImageView     { return a.Texture.View() }
func (a Attachment) Format() vk.Format      { return a.Texture.Format() }
func (a Attachment) Layout() vk.ImageLayout { return a.Texture.Layout() }
