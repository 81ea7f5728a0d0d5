// Package labels holds the fixed class table for the plant disease model.
// Index i of the model's output vector corresponds to Names[i]; the order
// matches the dataset the checkpoint was trained on and must not change.
package labels

import (
	"fmt"
	"strings"
)

// Count is the number of disease classes the model predicts.
const Count = 38

var Names = [Count]string{
	"Apple___Apple_scab",
	"Apple___Black_rot",
	"Apple___Cedar_apple_rust",
	"Apple___healthy",
	"Blueberry___healthy",
	"Cherry_(including_sour)___Powdery_mildew",
	"Cherry_(including_sour)___healthy",
	"Corn_(maize)___Cercospora_leaf_spot Gray_leaf_spot",
	"Corn_(maize)___Common_rust_",
	"Corn_(maize)___Northern_Leaf_Blight",
	"Corn_(maize)___healthy",
	"Grape___Black_rot",
	"Grape___Esca_(Black_Measles)",
	"Grape___Leaf_blight_(Isariopsis_Leaf_Spot)",
	"Grape___healthy",
	"Orange___Haunglongbing_(Citrus_greening)",
	"Peach___Bacterial_spot",
	"Peach___healthy",
	"Pepper,_bell___Bacterial_spot",
	"Pepper,_bell___healthy",
	"Potato___Early_blight",
	"Potato___Late_blight",
	"Potato___healthy",
	"Raspberry___healthy",
	"Soybean___healthy",
	"Squash___Powdery_mildew",
	"Strawberry___Leaf_scorch",
	"Strawberry___healthy",
	"Tomato___Bacterial_spot",
	"Tomato___Early_blight",
	"Tomato___Late_blight",
	"Tomato___Leaf_Mold",
	"Tomato___Septoria_leaf_spot",
	"Tomato___Spider_mites Two-spotted_spider_mite",
	"Tomato___Target_Spot",
	"Tomato___Tomato_Yellow_Leaf_Curl_Virus",
	"Tomato___Tomato_mosaic_virus",
	"Tomato___healthy",
}

// Name returns the class name for an output index.
func Name(i int) string {
	if i < 0 || i >= Count {
		return fmt.Sprintf("Unknown (class %d)", i)
	}
	return Names[i]
}

// Display turns a raw class name like "Tomato___Late_blight" into
// "Tomato: Late blight" for user-facing output.
func Display(name string) string {
	crop, condition, found := strings.Cut(name, "___")
	if !found {
		return strings.ReplaceAll(name, "_", " ")
	}
	crop = strings.ReplaceAll(crop, "_", " ")
	condition = strings.ReplaceAll(condition, "_", " ")
	return crop + ": " + condition
}

// IsHealthy reports whether a class name denotes a healthy plant rather
// than a disease.
func IsHealthy(name string) bool {
	return strings.HasSuffix(name, "healthy")
}
