package advisory

import "fmt"

const diseaseInfoTemplate = `Please provide information about the plant disease in precise easy english: **%s**

### 🌱 Disease Name & Affected Plants
- Which plants are commonly affected by this disease

### 🔍 Disease Cause
- Pathogen type and scientific name if available

### ⚠️ Symptoms
- Main symptoms observed on plants

### 📉 Impact on Crops
- How this disease affects crop yield and quality

### 💊 Prevention & Treatment
- Recommended treatment and preventive measures
`

const answerTemplate = `You are an expert plant pathologist. Answer the following question about the plant disease "%s":

Question: %s

Provide an accurate answer focusing specifically on this disease. Don't use markdown.
`

func DiseaseInfoPrompt(label string) string {
	return fmt.Sprintf(diseaseInfoTemplate, label)
}

func AnswerPrompt(label, question string) string {
	return fmt.Sprintf(answerTemplate, label, question)
}
