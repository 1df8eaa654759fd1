package filament

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"
)

func TestAttachmentTracksTextureState(t *testing.T) {
	tex := NewTexture(vk.NullImage, vk.NullImageView, vk.FormatB8g8r8a8Unorm, 1, 1)
	att := Attachment{Texture: tex}

	if att.Layout() != vk.ImageLayoutUndefined {
		t.Fatalf("new texture layout = %d, want undefined", att.Layout())
	}
	if att.Format() != vk.FormatB8g8r8a8Unorm {
		t.Fatalf("Format() = %d", att.Format())
	}

	tex.SetLayout(vk.ImageLayoutColorAttachmentOptimal)
	if att.Layout() != vk.ImageLayoutColorAttachmentOptimal {
		t.Fatal("attachment did not observe the layout transition")
	}
}

func TestAttachmentSurvivesImageReplace(t *testing.T) {
	tex := NewTexture(vk.NullImage, vk.NullImageView, vk.FormatB8g8r8a8Unorm, 1, 1)
	att := Attachment{Texture: tex}

	tex.SetLayout(vk.ImageLayoutPresentSrc)
	tex.Replace(vk.NullImage, vk.NullImageView)

	// A pre-existing attachment sees the swapped state without being
	// recreated.
	if att.Layout() != vk.ImageLayoutUndefined {
		t.Fatalf("layout after Replace = %d, want undefined", att.Layout())
	}
	if att.Format() != vk.FormatB8g8r8a8Unorm {
		t.Fatal("format must survive an image swap")
	}
}

func TestAttachmentValid(t *testing.T) {
	var empty Attachment
	if empty.Valid() {
		t.Fatal("zero attachment reports valid")
	}
	att := Attachment{Texture: NewTexture(vk.NullImage, vk.NullImageView, vk.FormatD32Sfloat, 1, 1)}
	if !att.Valid() {
		t.Fatal("attachment with texture reports invalid")
	}
}
